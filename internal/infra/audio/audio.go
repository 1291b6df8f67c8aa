// Package audio provides the audio resources driven by the playback engine.
package audio

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/cratebox/internal/app/engine"
)

// Driver names.
const (
	DriverSpeaker   = "speaker"
	DriverSimulated = "simulated"
)

// ErrNoSource is returned by Play when nothing is loaded.
var ErrNoSource = errors.New("no source loaded")

// Config holds audio resource configuration.
type Config struct {
	Driver          string
	SampleRate      int           // Output sample rate for the speaker driver
	BufferSize      time.Duration // Speaker buffer length
	FetchTimeout    time.Duration // Timeout for downloading a source
	SimulatedLength time.Duration // Length reported for every simulated source
}

// NewFactory returns an engine.ResourceFactory for the configured driver.
func NewFactory(cfg Config) (engine.ResourceFactory, error) {
	switch cfg.Driver {
	case DriverSpeaker:
		return func() (engine.Resource, error) {
			return NewSpeaker(cfg), nil
		}, nil
	case DriverSimulated, "":
		return func() (engine.Resource, error) {
			return NewSimulated(cfg.SimulatedLength), nil
		}, nil
	default:
		return nil, errors.Newf("unknown audio driver: %s", cfg.Driver)
	}
}

// endedListeners tracks OnEnded registrations.
type endedListeners struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func()
}

func (l *endedListeners) add(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int]func())
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *endedListeners) fire() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (l *endedListeners) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// toWallTime returns the time with monotonic clock stripped.
// Differences are then computed on the wall clock.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}

func duration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
