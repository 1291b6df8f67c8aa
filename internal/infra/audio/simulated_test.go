package audio

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_LoadAndPlay(t *testing.T) {
	s := NewSimulated(time.Second)

	assert.ErrorIs(t, s.Play(), ErrNoSource)
	require.NoError(t, s.Load("https://cdn.example.com/a.mp3"))
	assert.Equal(t, "https://cdn.example.com/a.mp3", s.Source())
	assert.True(t, s.Paused())
	assert.Equal(t, 0.0, s.CurrentTime())

	require.NoError(t, s.Play())
	assert.False(t, s.Paused())
	assert.Eventually(t, func() bool { return s.CurrentTime() > 0 }, time.Second, 5*time.Millisecond)

	s.Pause()
	frozen := s.CurrentTime()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, s.CurrentTime())
	assert.True(t, s.Paused())
}

func TestSimulated_LoadRejectsBadSources(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "relative", src: "a.mp3"},
		{name: "file scheme", src: "file:///tmp/a.mp3"},
		{name: "unparsable", src: "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSimulated(time.Second)
			assert.Error(t, s.Load(tt.src))
			assert.Equal(t, "", s.Source())
		})
	}
}

func TestSimulated_Seek(t *testing.T) {
	s := NewSimulated(10 * time.Second)
	require.NoError(t, s.Load("https://cdn.example.com/a.mp3"))

	s.Seek(4)
	assert.InDelta(t, 4.0, s.CurrentTime(), 0.001)

	s.Seek(-3)
	assert.Equal(t, 0.0, s.CurrentTime())

	s.Seek(99)
	assert.InDelta(t, 10.0, s.CurrentTime(), 0.001)
}

func TestSimulated_EndsOnce(t *testing.T) {
	s := NewSimulated(30 * time.Millisecond)
	require.NoError(t, s.Load("https://cdn.example.com/a.mp3"))

	var ended atomic.Int32
	remove := s.OnEnded(func() { ended.Add(1) })
	defer remove()

	require.NoError(t, s.Play())
	assert.Eventually(t, func() bool { return ended.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), ended.Load())
	assert.True(t, s.Paused())
	assert.InDelta(t, 0.03, s.CurrentTime(), 0.001)

	// Playing an ended source restarts it.
	require.NoError(t, s.Play())
	assert.Less(t, s.CurrentTime(), 0.03)
	assert.Eventually(t, func() bool { return ended.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSimulated_PauseCancelsEnd(t *testing.T) {
	s := NewSimulated(40 * time.Millisecond)
	require.NoError(t, s.Load("https://cdn.example.com/a.mp3"))

	var ended atomic.Int32
	s.OnEnded(func() { ended.Add(1) })

	require.NoError(t, s.Play())
	s.Pause()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), ended.Load())

	// Reloading also cancels.
	require.NoError(t, s.Play())
	require.NoError(t, s.Load("https://cdn.example.com/b.mp3"))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), ended.Load())
}

func TestSimulated_RemovedListenerNotCalled(t *testing.T) {
	s := NewSimulated(20 * time.Millisecond)
	require.NoError(t, s.Load("https://cdn.example.com/a.mp3"))

	var ended atomic.Int32
	remove := s.OnEnded(func() { ended.Add(1) })
	remove()
	assert.Equal(t, 0, s.listeners.len())

	require.NoError(t, s.Play())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), ended.Load())
	assert.True(t, s.Paused())
}

func TestSimulated_BufferedEnd(t *testing.T) {
	s := NewSimulated(100 * time.Millisecond)
	assert.Equal(t, 0.0, s.BufferedEnd())

	require.NoError(t, s.Load("https://cdn.example.com/a.mp3"))
	assert.Eventually(t, func() bool { return s.BufferedEnd() == 0.1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Load(""))
	assert.Equal(t, "", s.Source())
	assert.Equal(t, 0.0, s.BufferedEnd())
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		want    any
		wantErr bool
	}{
		{name: "default", driver: "", want: &Simulated{}},
		{name: "simulated", driver: DriverSimulated, want: &Simulated{}},
		{name: "speaker", driver: DriverSpeaker, want: &Speaker{}},
		{name: "unknown", driver: "alsa", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := NewFactory(Config{Driver: tt.driver})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			res, err := factory()
			require.NoError(t, err)
			assert.IsType(t, tt.want, res)
		})
	}
}
