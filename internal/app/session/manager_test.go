package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/cratebox/internal/app/engine"
	"github.com/osa030/cratebox/internal/app/notification"
	"github.com/osa030/cratebox/internal/app/playback"
	"github.com/osa030/cratebox/internal/domain/track"
	"github.com/osa030/cratebox/internal/infra/analytics"
	"github.com/osa030/cratebox/internal/infra/catalog"
	"github.com/osa030/cratebox/internal/infra/config"
)

type stubResource struct {
	src     string
	paused  bool
	closed  bool
	volume  float64
	muted   bool
	current float64
}

func (r *stubResource) Load(src string) error {
	r.src = src
	r.current = 0
	r.paused = true
	return nil
}

func (r *stubResource) Source() string { return r.src }

func (r *stubResource) Play() error {
	r.paused = false
	return nil
}

func (r *stubResource) Pause() { r.paused = true }

func (r *stubResource) Paused() bool { return r.paused }

func (r *stubResource) SetVolume(v float64) { r.volume = v }

func (r *stubResource) SetMuted(m bool) { r.muted = m }

func (r *stubResource) CurrentTime() float64 { return r.current }

func (r *stubResource) Seek(sec float64) { r.current = sec }

func (r *stubResource) BufferedEnd() float64 { return 0 }

func (r *stubResource) OnEnded(func()) func() { return func() {} }

func (r *stubResource) Close() error {
	r.closed = true
	return nil
}

type nopFrames struct{}

func (nopFrames) Schedule(func()) func() { return func() {} }

type stubCatalog struct {
	result catalog.Result
	err    error
}

func (c *stubCatalog) Search(_ context.Context, _ string, _ int) (catalog.Result, error) {
	return c.result, c.err
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (t *recordingTracker) Track(e analytics.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

func (t *recordingTracker) types() []analytics.EventType {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]analytics.EventType, len(t.events))
	for i, e := range t.events {
		out[i] = e.Type
	}
	return out
}

type chanStream struct {
	ch chan *notification.Notification
}

func (s *chanStream) Send(n *notification.Notification) error {
	s.ch <- n
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Player: config.PlayerConfig{
			FrameIntervalMs:   16,
			DriftThresholdSec: 0.5,
			SeekStepSec:       10,
			NotifyIntervalMs:  1000,
			InitialVolume:     0.8,
		},
	}
}

func testItems() []track.Item {
	return []track.Item{
		{
			ID:         1,
			Title:      "First",
			ArtistName: "A",
			BPM:        124,
			KeyText:    "8A",
			PreviewURL: "https://cdn.example.com/1.mp3",
			Links:      []track.Link{{ID: 10, Source: "Beatport", URL: "https://buy.example.com/1"}},
		},
		{
			ID:         2,
			Title:      "Second",
			ArtistName: "B",
		},
	}
}

type harness struct {
	m       *Manager
	res     *stubResource
	tracker *recordingTracker
	catalog *stubCatalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		res:     &stubResource{},
		tracker: &recordingTracker{},
		catalog: &stubCatalog{result: catalog.Result{Items: testItems(), DisplayName: "Catalog"}},
	}
	m, err := NewManager(testConfig(), Components{
		Resource:  func() (engine.Resource, error) { return h.res, nil },
		Catalog:   h.catalog,
		Analytics: h.tracker,
		Frames:    nopFrames{},
	})
	require.NoError(t, err)
	h.m = m
	return h
}

// flush waits until every task queued on the engine loop has run.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	require.True(t, h.m.loop.Do(func() {}))
}

func TestNewManager_Errors(t *testing.T) {
	tests := []struct {
		name string
		c    Components
	}{
		{
			name: "missing resource",
			c:    Components{Catalog: &stubCatalog{}},
		},
		{
			name: "missing catalog",
			c:    Components{Resource: func() (engine.Resource, error) { return &stubResource{}, nil }},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(testConfig(), tt.c)
			assert.Error(t, err)
		})
	}
}

func TestManager_Lifecycle(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.m.GetStatus().Running)
	require.NoError(t, h.m.Start())
	assert.True(t, h.m.GetStatus().Running)
	assert.ErrorIs(t, h.m.Start(), ErrSessionStarted)
	assert.Equal(t, 0.8, h.m.GetStatus().State.Volume)

	require.NoError(t, h.m.Stop())
	assert.True(t, h.res.closed)
	assert.False(t, h.m.GetStatus().Running)

	select {
	case <-h.m.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.ErrorIs(t, h.m.Stop(), ErrSessionNotRunning)
	assert.ErrorIs(t, h.m.Start(), ErrSessionStarted)
}

func TestManager_StartMountFailure(t *testing.T) {
	m, err := NewManager(testConfig(), Components{
		Resource: func() (engine.Resource, error) { return nil, errors.New("no device") },
		Catalog:  &stubCatalog{},
		Frames:   nopFrames{},
	})
	require.NoError(t, err)

	assert.Error(t, m.Start())
	assert.False(t, m.GetStatus().Running)
	assert.ErrorIs(t, m.Start(), ErrSessionStarted)
	assert.ErrorIs(t, m.Stop(), ErrSessionNotRunning)
}

func TestManager_SearchAndPreview(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start())
	defer h.m.Stop()

	res, err := h.m.Search(context.Background(), "  deep house ", 20)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)

	require.NoError(t, h.m.PreviewResults(0))
	h.flush(t)

	st := h.m.GetStatus().State
	assert.Equal(t, 0, st.Index)
	assert.True(t, st.Playing)
	assert.Equal(t, "https://cdn.example.com/1.mp3", h.res.src)
	assert.False(t, h.res.paused)

	// No preview on the second result: queued but not reported.
	require.NoError(t, h.m.PreviewResults(1))
	h.flush(t)
	assert.Equal(t, "", h.res.src)

	assert.Equal(t, []analytics.EventType{analytics.SearchPerformed, analytics.TrackPreview}, h.tracker.types())
	search := h.tracker.events[0].Data
	require.NotNil(t, search.QueryLength)
	assert.Equal(t, 10, *search.QueryLength)
	assert.Equal(t, 2, *search.ResultsCount)
	assert.Equal(t, "1", h.tracker.events[1].Data.TrackID)
	assert.Equal(t, "Catalog", h.tracker.events[1].Data.Source)
}

func TestManager_SearchShortQueryNotTracked(t *testing.T) {
	h := newHarness(t)
	h.catalog.result = catalog.Result{Items: []track.Item{}}

	_, err := h.m.Search(context.Background(), "a", 20)
	require.NoError(t, err)
	assert.Empty(t, h.tracker.types())
}

func TestManager_SearchError(t *testing.T) {
	h := newHarness(t)
	h.catalog.err = catalog.ErrAllProvidersFailed

	_, err := h.m.Search(context.Background(), "query", 20)
	assert.ErrorIs(t, err, catalog.ErrAllProvidersFailed)
}

func TestManager_PreviewErrors(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.m.PreviewResults(0), ErrNoResults)

	_, err := h.m.Search(context.Background(), "query", 20)
	require.NoError(t, err)

	tests := []struct {
		name string
		idx  int
	}{
		{name: "negative", idx: -1},
		{name: "past end", idx: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, h.m.PreviewResults(tt.idx), ErrIndexOutOfRange)
		})
	}
}

func TestManager_Crate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.m.Store().SetQueue(testItems(), 0)

	row, err := h.m.AddToCrate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://buy.example.com/1", row.URL)

	_, err = h.m.AddToCrate(ctx, 1)
	require.NoError(t, err)

	_, err = h.m.AddToCrate(ctx, 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	rows, err := h.m.ListCrate(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	csv, err := h.m.ExportCrate(ctx)
	require.NoError(t, err)
	assert.Equal(t,
		"Title,Artist,BPM,Key,URL\n"+
			`"First","A","124","8A","https://buy.example.com/1"`+"\n"+
			`"Second","B","","",""`,
		csv)

	require.NoError(t, h.m.RemoveFromCrate(ctx, 0))
	rows, err = h.m.ListCrate(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Second", rows[0].Title)

	require.NoError(t, h.m.ClearCrate(ctx))
	rows, err = h.m.ListCrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.Equal(t, []analytics.EventType{analytics.CrateExport}, h.tracker.types())
	assert.Equal(t, 2, *h.tracker.events[0].Data.Rows)
}

func TestManager_BuyLink(t *testing.T) {
	h := newHarness(t)
	h.m.Store().SetQueue(testItems(), 0)

	l, err := h.m.BuyLink(0)
	require.NoError(t, err)
	assert.Equal(t, "https://buy.example.com/1", l.URL)

	_, err = h.m.BuyLink(1)
	assert.ErrorIs(t, err, ErrNoLink)

	_, err = h.m.BuyLink(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	require.Equal(t, []analytics.EventType{analytics.BuyLinkClick}, h.tracker.types())
	assert.Equal(t, "Beatport", h.tracker.events[0].Data.Source)
	assert.Equal(t, "1", h.tracker.events[0].Data.TrackID)
}

func TestManager_Control(t *testing.T) {
	one := 1

	tests := []struct {
		name  string
		cmd   Command
		check func(t *testing.T, st playback.State)
	}{
		{
			name:  "pause",
			cmd:   Command{Action: ActionPause},
			check: func(t *testing.T, st playback.State) { assert.False(t, st.Playing) },
		},
		{
			name:  "toggle",
			cmd:   Command{Action: ActionToggle},
			check: func(t *testing.T, st playback.State) { assert.False(t, st.Playing) },
		},
		{
			name:  "play index",
			cmd:   Command{Action: ActionPlay, Index: &one},
			check: func(t *testing.T, st playback.State) { assert.Equal(t, 1, st.Index) },
		},
		{
			name:  "next",
			cmd:   Command{Action: ActionNext},
			check: func(t *testing.T, st playback.State) { assert.Equal(t, 1, st.Index) },
		},
		{
			name:  "seek",
			cmd:   Command{Action: ActionSeek, Value: 12.5},
			check: func(t *testing.T, st playback.State) { assert.Equal(t, 12.5, st.Position) },
		},
		{
			name:  "volume",
			cmd:   Command{Action: ActionVolume, Value: 0.3},
			check: func(t *testing.T, st playback.State) { assert.Equal(t, 0.3, st.Volume) },
		},
		{
			name:  "mute",
			cmd:   Command{Action: ActionMute},
			check: func(t *testing.T, st playback.State) { assert.True(t, st.Muted) },
		},
		{
			name:  "shuffle on",
			cmd:   Command{Action: ActionShuffle, On: true},
			check: func(t *testing.T, st playback.State) { assert.True(t, st.Shuffle) },
		},
		{
			name:  "repeat",
			cmd:   Command{Action: ActionRepeat},
			check: func(t *testing.T, st playback.State) { assert.Equal(t, playback.RepeatOne, st.Repeat) },
		},
		{
			name:  "remove",
			cmd:   Command{Action: ActionRemove, Index: &one},
			check: func(t *testing.T, st playback.State) { assert.Len(t, st.Queue, 1) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.m.Store().SetQueue(testItems(), 0)

			require.NoError(t, h.m.Control(tt.cmd))
			tt.check(t, h.m.GetStatus().State)
		})
	}
}

func TestManager_ControlErrors(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.m.Control(Command{Action: "rewind"}), ErrUnknownAction)
	assert.Error(t, h.m.Control(Command{Action: ActionRemove}))
}

func TestManager_StoreWritesRunOnEngineLoop(t *testing.T) {
	tests := []struct {
		name  string
		write func(h *harness) error
		check func(st playback.State) bool
	}{
		{
			name:  "control",
			write: func(h *harness) error { return h.m.Control(Command{Action: ActionSeek, Value: 42}) },
			check: func(st playback.State) bool { return st.Position == 42 },
		},
		{
			name:  "preview",
			write: func(h *harness) error { return h.m.PreviewResults(1) },
			check: func(st playback.State) bool { return st.Index == 1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.m.Search(context.Background(), "house", 10)
			require.NoError(t, err)
			require.NoError(t, h.m.Start())
			defer func() { _ = h.m.Stop() }()

			// Hold the loop busy, as a frame tick would.
			release := make(chan struct{})
			h.m.loop.Post(func() { <-release })

			errc := make(chan error, 1)
			go func() { errc <- tt.write(h) }()

			assert.Never(t, func() bool { return tt.check(h.m.Store().Snapshot()) }, 50*time.Millisecond, 5*time.Millisecond)
			close(release)

			select {
			case err := <-errc:
				require.NoError(t, err)
			case <-time.After(time.Second):
				t.Fatal("store write did not complete")
			}
			assert.True(t, tt.check(h.m.Store().Snapshot()))
		})
	}
}

func TestManager_Subscribe(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start())
	defer h.m.Stop()

	stream := &chanStream{ch: make(chan *notification.Notification, 8)}
	id, initial := h.m.Subscribe(stream)
	defer h.m.Unsubscribe(id)

	assert.NotEmpty(t, id)
	assert.Equal(t, -1, initial.State.Index)

	h.m.Store().SetQueue(testItems(), 1)

	select {
	case n := <-stream.ch:
		assert.Equal(t, playback.ChangeQueue, n.Change)
		assert.Equal(t, 1, n.State.Index)
		assert.Greater(t, n.SequenceNo, initial.SequenceNo)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}
