// Package frame provides a display-frame scheduler backed by wall-clock timers.
package frame

import (
	"sync"
	"time"
)

// DefaultInterval approximates a 60Hz display refresh.
const DefaultInterval = 16 * time.Millisecond

// Scheduler runs each scheduled callback once, one interval after it was scheduled.
type Scheduler struct {
	interval time.Duration

	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}
}

// New creates a scheduler. A non-positive interval uses DefaultInterval.
func New(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Interval returns the frame interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Schedule runs fn on the next frame and returns a function that cancels it.
// Callbacks run on their own goroutine.
func (s *Scheduler) Schedule(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return func() {}
	}

	var t *time.Timer
	t = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		_, live := s.timers[t]
		delete(s.timers, t)
		s.mu.Unlock()

		if live {
			fn()
		}
	})
	s.timers[t] = struct{}{}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.Stop()
		delete(s.timers, t)
	}
}

// Stop cancels every pending callback. Later calls to Schedule are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
}

// Pending returns the number of callbacks waiting to run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
