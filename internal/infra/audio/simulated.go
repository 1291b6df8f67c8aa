package audio

import (
	"context"
	"math"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/app/engine"
)

const (
	defaultSimulatedLength = 30 * time.Second
	// simulatedBufferRate is how many seconds of media are buffered per second since load.
	simulatedBufferRate = 4
	endPollInterval     = 10 * time.Millisecond
)

// Simulated is a silent Resource driven by the wall clock.
// Every source is reported as having the same length.
type Simulated struct {
	mu sync.Mutex

	length time.Duration
	src    string
	run    uint64 // Invalidates end timers from earlier runs

	paused    bool
	startTime time.Time     // Wall time the current run started
	offset    time.Duration // Position when the current run started
	loadedAt  time.Time

	volume float64
	muted  bool

	timerCancel func()
	listeners   endedListeners
}

var _ engine.Resource = (*Simulated)(nil)

// NewSimulated creates a simulated resource. A non-positive length uses 30 seconds.
func NewSimulated(length time.Duration) *Simulated {
	if length <= 0 {
		length = defaultSimulatedLength
	}
	return &Simulated{
		length: length,
		paused: true,
		volume: 1,
	}
}

// Load replaces the source and rewinds.
func (s *Simulated) Load(src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	s.src = ""
	s.paused = true
	s.offset = 0
	s.loadedAt = toWallTime(time.Now())

	if src == "" {
		return nil
	}
	if err := validateSource(src); err != nil {
		return err
	}
	s.src = src

	zlog.Debug().Msgf("simulated: loaded %s", src)
	return nil
}

// Source returns the loaded source.
func (s *Simulated) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// Play starts the wall clock. Playing an ended source restarts it.
func (s *Simulated) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src == "" {
		return ErrNoSource
	}
	if !s.paused {
		return nil
	}
	if s.offset >= s.length {
		s.offset = 0
	}

	s.paused = false
	s.startTime = toWallTime(time.Now())
	s.startEndTimerLocked()
	return nil
}

// Pause freezes the position.
func (s *Simulated) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return
	}
	s.offset = s.positionLocked()
	s.paused = true
	s.stopTimerLocked()
}

// Paused reports whether the clock is stopped.
func (s *Simulated) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Simulated) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

func (s *Simulated) SetMuted(m bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = m
}

// CurrentTime returns the elapsed seconds.
func (s *Simulated) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked().Seconds()
}

// Seek moves the position, clamped to the source length.
func (s *Simulated) Seek(sec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src == "" {
		return
	}
	if math.IsNaN(sec) || sec < 0 {
		sec = 0
	}
	s.offset = min(duration(sec), s.length)

	if !s.paused {
		s.startTime = toWallTime(time.Now())
		s.startEndTimerLocked()
	}
}

// BufferedEnd grows from the load time until the whole source is buffered.
func (s *Simulated) BufferedEnd() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src == "" {
		return 0
	}
	buffered := toWallTime(time.Now()).Sub(s.loadedAt) * simulatedBufferRate
	return min(buffered, s.length).Seconds()
}

// OnEnded registers fn for the natural end of the source.
func (s *Simulated) OnEnded(fn func()) func() {
	return s.listeners.add(fn)
}

// Close stops the clock and unloads the source.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	s.src = ""
	s.paused = true
	return nil
}

func (s *Simulated) positionLocked() time.Duration {
	if s.paused {
		return s.offset
	}
	pos := s.offset + toWallTime(time.Now()).Sub(s.startTime)
	return min(pos, s.length)
}

func (s *Simulated) startEndTimerLocked() {
	s.stopTimerLocked()
	run := s.run
	s.timerCancel = startWallClockTimer(s.length-s.offset, func() {
		s.onEnd(run)
	})
}

func (s *Simulated) stopTimerLocked() {
	s.run++
	if s.timerCancel != nil {
		s.timerCancel()
		s.timerCancel = nil
	}
}

func (s *Simulated) onEnd(run uint64) {
	s.mu.Lock()
	if run != s.run || s.paused {
		s.mu.Unlock()
		return
	}
	s.timerCancel = nil
	s.offset = s.length
	s.paused = true
	s.mu.Unlock()

	s.listeners.fire()
}

// startWallClockTimer triggers callback once duration has elapsed on the wall clock.
// Returns a cancel function.
func startWallClockTimer(d time.Duration, callback func()) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		endTime := toWallTime(time.Now()).Add(d)
		ticker := time.NewTicker(endPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !toWallTime(time.Now()).Before(endTime) {
					callback()
					return
				}
			}
		}
	}()

	return cancel
}
