// Package session provides the session manager.
package session

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/app/engine"
	"github.com/osa030/cratebox/internal/app/notification"
	"github.com/osa030/cratebox/internal/app/playback"
	"github.com/osa030/cratebox/internal/domain/crate"
	"github.com/osa030/cratebox/internal/domain/track"
	"github.com/osa030/cratebox/internal/infra/analytics"
	"github.com/osa030/cratebox/internal/infra/catalog"
	"github.com/osa030/cratebox/internal/infra/config"
	"github.com/osa030/cratebox/internal/infra/cratestore"
	"github.com/osa030/cratebox/internal/infra/frame"
)

var (
	ErrSessionNotRunning = errors.New("session is not running")
	ErrSessionStarted    = errors.New("session already started")
	ErrNoResults         = errors.New("no search results to preview")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrNoLink            = errors.New("track has no link")
)

// Searcher looks up tracks in the catalog.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (catalog.Result, error)
}

// Components are the collaborators wired into a Manager.
// Resource and Catalog are required; the rest fall back to in-process defaults.
type Components struct {
	Resource  engine.ResourceFactory
	Catalog   Searcher
	Crate     cratestore.Store
	Analytics analytics.Tracker
	Frames    engine.Scheduler
	Media     engine.MediaSession
}

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phaseStopped
)

// Status is a point-in-time view of the player.
type Status struct {
	SessionID string
	Running   bool
	State     playback.State
	Progress  playback.Progress
}

// Manager owns the playback store and engine and the services around them.
type Manager struct {
	mu sync.RWMutex

	id     string
	config *config.Config

	// Components
	store        *playback.Store
	loop         *engine.EventLoop
	notifyLoop   *engine.EventLoop
	engine       *engine.Engine
	notification *notification.Manager
	catalog      Searcher
	crate        cratestore.Store
	analytics    analytics.Tracker

	// Last search, the source for PreviewResults
	results       []track.Item
	resultsSource string

	phase       phase
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, c Components) (*Manager, error) {
	if c.Resource == nil {
		return nil, errors.New("audio resource factory is required")
	}
	if c.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if c.Crate == nil {
		c.Crate = cratestore.NewMemory()
	}
	if c.Analytics == nil {
		c.Analytics = analytics.Nop{}
	}
	if c.Frames == nil {
		c.Frames = frame.New(cfg.Player.FrameInterval())
	}

	m := &Manager{
		id:           uuid.New().String(),
		config:       cfg,
		store:        playback.NewStore(playback.WithVolume(cfg.Player.InitialVolume)),
		loop:         engine.NewEventLoop(),
		notifyLoop:   engine.NewEventLoop(),
		notification: notification.NewManager(cfg.Player.NotifyInterval()),
		catalog:      c.Catalog,
		crate:        c.Crate,
		analytics:    c.Analytics,
		done:         make(chan struct{}),
	}

	opts := []engine.Option{
		engine.WithConfig(engine.Config{
			DriftThreshold: cfg.Player.DriftThresholdSec,
			SeekStep:       cfg.Player.SeekStepSec,
		}),
	}
	if c.Media != nil {
		opts = append(opts, engine.WithMediaSession(c.Media))
	}
	m.engine = engine.New(m.store, m.loop, c.Frames, c.Resource, opts...)

	return m, nil
}

// Start runs the event loops and mounts the engine. A manager can be started once.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != phaseIdle {
		return ErrSessionStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	go m.loop.Run(ctx)
	go m.notifyLoop.Run(ctx)

	// Broadcasts run off the store's dispatch path, in store order.
	m.unsubscribe = m.store.Subscribe(func(s playback.State, c playback.Change) {
		m.notifyLoop.Post(func() { m.notification.Publish(s, c) })
	})

	var err error
	if !m.loop.Do(func() { err = m.engine.Mount() }) {
		err = ErrSessionNotRunning
	}
	if err != nil {
		m.unsubscribe()
		cancel()
		m.phase = phaseStopped
		close(m.done)
		return errors.Wrap(err, "failed to mount engine")
	}

	m.cancel = cancel
	m.phase = phaseRunning
	zlog.Info().Msgf("session started: session_id=%s", m.id)
	return nil
}

// Stop unmounts the engine, releases the audio resource and closes the crate store.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.phase != phaseRunning {
		m.mu.Unlock()
		return ErrSessionNotRunning
	}
	m.phase = phaseStopped
	m.mu.Unlock()

	var err error
	m.loop.Do(func() { err = m.engine.Close() })

	m.unsubscribe()
	m.cancel()
	<-m.loop.Done()
	<-m.notifyLoop.Done()
	m.notification.Close()

	if cerr := m.crate.Close(); cerr != nil {
		err = errors.CombineErrors(err, errors.Wrap(cerr, "failed to close crate store"))
	}
	if w, ok := m.analytics.(interface{ Wait() }); ok {
		w.Wait()
	}

	close(m.done)
	zlog.Info().Msgf("session stopped: session_id=%s", m.id)
	return err
}

// onLoop runs a store write on the engine loop while the session runs, so it
// is ordered with frame ticks and track-end events. Outside the running phase
// no loop owns the store and fn runs on the caller.
func (m *Manager) onLoop(fn func()) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.phase != phaseRunning {
		fn()
		return nil
	}
	if !m.loop.Do(fn) {
		return ErrSessionNotRunning
	}
	return nil
}

// Done is closed once Stop has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// ID returns the session ID.
func (m *Manager) ID() string {
	return m.id
}

// Store returns the playback store.
func (m *Manager) Store() *playback.Store {
	return m.store
}

// GetStatus returns the current status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	running := m.phase == phaseRunning
	m.mu.RUnlock()

	st := m.store.Snapshot()
	return Status{
		SessionID: m.id,
		Running:   running,
		State:     st,
		Progress:  playback.ProgressOf(st),
	}
}

// Search queries the catalog and remembers the results for PreviewResults.
func (m *Manager) Search(ctx context.Context, query string, limit int) (catalog.Result, error) {
	res, err := m.catalog.Search(ctx, query, limit)
	if err != nil {
		return catalog.Result{}, errors.Wrap(err, "search failed")
	}

	m.mu.Lock()
	m.results = res.Items
	m.resultsSource = res.DisplayName
	m.mu.Unlock()

	qlen := len([]rune(strings.TrimSpace(query)))
	if qlen >= catalog.MinQueryLength {
		m.analytics.Track(analytics.Event{
			Type: analytics.SearchPerformed,
			Data: analytics.Data{
				QueryLength:  analytics.Int(qlen),
				ResultsCount: analytics.Int(len(res.Items)),
			},
		})
	}
	return res, nil
}

// PreviewResults queues the last search results and starts playback at idx.
func (m *Manager) PreviewResults(idx int) error {
	m.mu.RLock()
	items := m.results
	source := m.resultsSource
	m.mu.RUnlock()

	if len(items) == 0 {
		return ErrNoResults
	}
	if idx < 0 || idx >= len(items) {
		return errors.Wrapf(ErrIndexOutOfRange, "preview index %d", idx)
	}

	if err := m.onLoop(func() { m.store.SetQueue(items, idx) }); err != nil {
		return err
	}

	if t := items[idx]; t.HasPreview() {
		m.analytics.Track(analytics.Event{
			Type: analytics.TrackPreview,
			Data: analytics.Data{
				TrackID: strconv.FormatInt(t.ID, 10),
				Source:  source,
			},
		})
	}
	return nil
}

// AddToCrate saves the queue item at idx to the crate.
func (m *Manager) AddToCrate(ctx context.Context, idx int) (crate.Row, error) {
	t, err := m.queueItem(idx)
	if err != nil {
		return crate.Row{}, err
	}

	row := crate.FromItem(t)
	if err := m.crate.Add(ctx, row); err != nil {
		return crate.Row{}, errors.Wrap(err, "failed to add to crate")
	}
	zlog.Debug().Msgf("crate: added %q by %s", row.Title, row.Artist)
	return row, nil
}

// RemoveFromCrate deletes the crate row at idx.
func (m *Manager) RemoveFromCrate(ctx context.Context, idx int) error {
	return errors.Wrap(m.crate.Remove(ctx, idx), "failed to remove from crate")
}

// ClearCrate empties the crate.
func (m *Manager) ClearCrate(ctx context.Context) error {
	return errors.Wrap(m.crate.Clear(ctx), "failed to clear crate")
}

// ListCrate returns the crate rows in insertion order.
func (m *Manager) ListCrate(ctx context.Context) ([]crate.Row, error) {
	rows, err := m.crate.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list crate")
	}
	return rows, nil
}

// ExportCrate renders the crate as CSV.
func (m *Manager) ExportCrate(ctx context.Context) (string, error) {
	rows, err := m.ListCrate(ctx)
	if err != nil {
		return "", err
	}

	m.analytics.Track(analytics.Event{
		Type: analytics.CrateExport,
		Data: analytics.Data{Rows: analytics.Int(len(rows))},
	})
	return crate.ExportCSV(rows), nil
}

// BuyLink returns the first link of the queue item at idx.
func (m *Manager) BuyLink(idx int) (track.Link, error) {
	t, err := m.queueItem(idx)
	if err != nil {
		return track.Link{}, err
	}

	l, ok := t.PrimaryLink()
	if !ok {
		return track.Link{}, ErrNoLink
	}

	m.analytics.Track(analytics.Event{
		Type: analytics.BuyLinkClick,
		Data: analytics.Data{
			TrackID: strconv.FormatInt(t.ID, 10),
			Source:  l.Source,
		},
	})
	return l, nil
}

// Subscribe registers stream for state notifications and returns the
// subscription ID together with the current state as the initial notification.
func (m *Manager) Subscribe(stream notification.Stream) (string, *notification.Notification) {
	initial := &notification.Notification{
		SequenceNo: m.notification.NextSequenceNo(),
		Change:     playback.ChangeQueue,
		State:      m.store.Snapshot(),
	}
	return m.notification.Subscribe(stream), initial
}

// Unsubscribe removes a notification subscription.
func (m *Manager) Unsubscribe(id string) {
	m.notification.Unsubscribe(id)
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

func (m *Manager) queueItem(idx int) (track.Item, error) {
	st := m.store.Snapshot()
	if idx < 0 || idx >= len(st.Queue) {
		return track.Item{}, errors.Wrapf(ErrIndexOutOfRange, "queue index %d", idx)
	}
	return st.Queue[idx], nil
}
