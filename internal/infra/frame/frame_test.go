package frame

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_RunsOnce(t *testing.T) {
	s := New(time.Millisecond)

	var calls atomic.Int32
	s.Schedule(func() { calls.Add(1) })

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_Cancel(t *testing.T) {
	s := New(20 * time.Millisecond)

	var calls atomic.Int32
	cancel := s.Schedule(func() { calls.Add(1) })
	cancel()
	cancel()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_Stop(t *testing.T) {
	s := New(20 * time.Millisecond)

	var calls atomic.Int32
	s.Schedule(func() { calls.Add(1) })
	s.Stop()
	s.Schedule(func() { calls.Add(1) })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestNew_DefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, New(0).Interval())
	assert.Equal(t, 5*time.Millisecond, New(5*time.Millisecond).Interval())
}
