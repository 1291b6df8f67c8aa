// Package engine reconciles playback store state into a single audio resource.
//
// All engine state is confined to a Loop. Events arriving from the store,
// the frame scheduler, the audio resource and the media session are posted
// to the loop and dropped once the engine is unmounted.
package engine

import (
	"math"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/app/playback"
	"github.com/osa030/cratebox/internal/domain/track"
)

// ErrClosed is returned by Mount after Close.
var ErrClosed = errors.New("engine closed")

// Config holds engine configuration.
type Config struct {
	DriftThreshold float64 // Seconds of divergence tolerated before a corrective seek
	SeekStep       float64 // Seconds moved by the seek forward/backward actions
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		DriftThreshold: 0.5,
		SeekStep:       10,
	}
}

// ResourceFactory creates the audio resource on first mount.
type ResourceFactory func() (Resource, error)

// Engine drives one Resource from a playback.Store.
type Engine struct {
	store       *playback.Store
	loop        Loop
	frames      Scheduler
	newResource ResourceFactory
	media       MediaSession
	config      Config

	// Set from store listeners on any goroutine.
	reconcilePending atomic.Bool
	startRequested   atomic.Bool

	// Loop-owned.
	res         Resource
	mounted     bool
	closed      bool
	gen         uint64
	cancelFrame func()
	removeEnded func()
	unsubscribe func()
	wasPlaying  bool
	blocked     bool
	published   *publishedTrack
	reported    *bool
}

type publishedTrack struct {
	index int
	id    int64
	title string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMediaSession attaches a system "now playing" integration.
func WithMediaSession(m MediaSession) Option {
	return func(e *Engine) {
		e.media = m
	}
}

// WithConfig overrides the default configuration.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		if c.DriftThreshold > 0 {
			e.config.DriftThreshold = c.DriftThreshold
		}
		if c.SeekStep > 0 {
			e.config.SeekStep = c.SeekStep
		}
	}
}

// New creates an engine. The resource is created on the first Mount.
func New(store *playback.Store, loop Loop, frames Scheduler, newResource ResourceFactory, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		loop:        loop,
		frames:      frames,
		newResource: newResource,
		config:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mount attaches the engine: it subscribes to the store, registers the
// ended listener, binds media actions, starts the frame loop and runs an
// initial reconciliation. It must be called on the loop.
func (e *Engine) Mount() error {
	if e.closed {
		return ErrClosed
	}
	if e.mounted {
		return nil
	}

	if e.res == nil {
		res, err := e.newResource()
		if err != nil {
			return errors.Wrap(err, "failed to create audio resource")
		}
		e.res = res
	}

	e.gen++
	gen := e.gen
	e.mounted = true
	e.wasPlaying = false
	e.blocked = false
	e.published = nil
	e.reported = nil

	e.removeEnded = e.res.OnEnded(func() {
		e.loop.Post(func() { e.handleEnded(gen) })
	})
	e.unsubscribe = e.store.Subscribe(e.onStateChange)
	if e.media != nil {
		e.media.Bind(e.actions(gen))
	}
	e.scheduleFrame(gen)

	zlog.Debug().Msgf("engine mounted (generation %d)", gen)

	e.reconcile()
	return nil
}

// Unmount detaches every listener and cancels the pending frame.
// No store updates are issued by the engine after it returns.
// It must be called on the loop.
func (e *Engine) Unmount() {
	if !e.mounted {
		return
	}
	e.mounted = false
	e.gen++

	if e.cancelFrame != nil {
		e.cancelFrame()
		e.cancelFrame = nil
	}
	if e.removeEnded != nil {
		e.removeEnded()
		e.removeEnded = nil
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.media != nil {
		e.media.Bind(Actions{})
		e.media.Clear()
	}

	zlog.Debug().Msg("engine unmounted")
}

// Close unmounts the engine and releases the resource. It must be called on the loop.
func (e *Engine) Close() error {
	e.Unmount()
	e.closed = true
	if e.res == nil {
		return nil
	}
	err := e.res.Close()
	e.res = nil
	if err != nil {
		return errors.Wrap(err, "failed to close audio resource")
	}
	return nil
}

// Mounted reports whether the engine is attached. It must be called on the loop.
func (e *Engine) Mounted() bool {
	return e.mounted
}

func (e *Engine) onStateChange(_ playback.State, c playback.Change) {
	switch c {
	case playback.ChangeQueue, playback.ChangeTrack, playback.ChangeTransport:
		e.startRequested.Store(true)
	}
	if e.reconcilePending.CompareAndSwap(false, true) {
		e.loop.Post(e.flushReconcile)
	}
}

// flushReconcile runs the reconcile pass owed to an earlier store change, if any.
func (e *Engine) flushReconcile() {
	if e.reconcilePending.Swap(false) {
		e.reconcile()
	}
}

func (e *Engine) reconcile() {
	if !e.mounted {
		return
	}

	st := e.store.Snapshot()
	cur, hasCur := st.Current()

	src := ""
	if hasCur {
		src, _ = cur.PreviewSource()
	}

	sourceChanged := false
	if src != e.res.Source() {
		sourceChanged = true
		e.blocked = false
		if err := e.res.Load(src); err != nil {
			zlog.Warn().Err(err).Msgf("failed to load source %q", src)
		}
	}

	e.res.SetMuted(st.Muted)
	e.res.SetVolume(st.Volume)

	if e.res.Source() != "" && math.Abs(e.res.CurrentTime()-st.Position) > e.config.DriftThreshold {
		e.res.Seek(st.Position)
	}

	e.applyTransport(st, sourceChanged)
	e.publish(st, cur, hasCur)
}

func (e *Engine) applyTransport(st playback.State, sourceChanged bool) {
	requested := e.startRequested.Swap(false)
	fresh := st.Playing && (!e.wasPlaying || sourceChanged || requested)
	e.wasPlaying = st.Playing

	if !st.Playing {
		e.res.Pause()
		e.blocked = false
		return
	}
	if e.res.Source() == "" || !e.res.Paused() {
		return
	}
	if e.blocked && !fresh {
		return
	}

	if err := e.res.Play(); err != nil {
		e.blocked = true
		if errors.Is(err, ErrStartRejected) {
			zlog.Debug().Msg("playback start rejected, waiting for user action")
			return
		}
		zlog.Warn().Err(err).Msg("failed to start playback")
		return
	}
	e.blocked = false
}

func (e *Engine) publish(st playback.State, cur track.Item, hasCur bool) {
	if e.media == nil {
		return
	}

	if r, ok := e.media.(StatusReporter); ok && (e.reported == nil || *e.reported != st.Playing) {
		playing := st.Playing
		e.reported = &playing
		r.SetPlaying(playing)
	}
	if !hasCur {
		if e.published != nil {
			e.media.Clear()
			e.published = nil
		}
		return
	}

	key := publishedTrack{index: st.Index, id: cur.ID, title: cur.Title}
	if e.published != nil && *e.published == key {
		return
	}
	e.published = &key

	duration, _ := cur.Duration()
	e.media.Publish(metadataFor(cur.Title, cur.ArtistName, cur.CoverURL, cur.ID, duration))
}

func (e *Engine) scheduleFrame(gen uint64) {
	e.cancelFrame = e.frames.Schedule(func() {
		e.loop.Post(func() { e.tick(gen) })
	})
}

func (e *Engine) tick(gen uint64) {
	if !e.mounted || gen != e.gen {
		return
	}
	e.cancelFrame = nil

	// A store change queued behind this tick must reach the resource first,
	// otherwise the stale resource time would overwrite the new position.
	e.flushReconcile()

	e.store.OnTick(e.res.CurrentTime(), e.res.BufferedEnd())

	if e.mounted && gen == e.gen {
		e.scheduleFrame(gen)
	}
}

func (e *Engine) handleEnded(gen uint64) {
	if !e.mounted || gen != e.gen {
		return
	}
	zlog.Debug().Msg("track ended")
	e.store.Next()
}

func (e *Engine) actions(gen uint64) Actions {
	on := func(fn func()) func() {
		return func() {
			e.loop.Post(func() {
				if !e.mounted || gen != e.gen {
					return
				}
				fn()
			})
		}
	}

	return Actions{
		Play:     on(e.store.Play),
		Pause:    on(e.store.Pause),
		Previous: on(e.store.Prev),
		Next:     on(e.store.Next),
		SeekForward: on(func() {
			e.store.Seek(e.store.Snapshot().Position + e.config.SeekStep)
		}),
		SeekBackward: on(func() {
			e.store.Seek(math.Max(0, e.store.Snapshot().Position-e.config.SeekStep))
		}),
	}
}
