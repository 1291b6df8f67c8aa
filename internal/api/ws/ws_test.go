package ws

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/cratebox/internal/app/notification"
	"github.com/osa030/cratebox/internal/app/playback"
	"github.com/osa030/cratebox/internal/domain/track"
)

type fakeSession struct {
	mgr *notification.Manager

	mu           sync.Mutex
	unsubscribed []string
	subscribed   chan string
	done         chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		mgr:        notification.NewManager(time.Second),
		subscribed: make(chan string, 1),
		done:       make(chan struct{}),
	}
}

func (f *fakeSession) Subscribe(s notification.Stream) (string, *notification.Notification) {
	id := f.mgr.Subscribe(s)
	f.subscribed <- id
	return id, &notification.Notification{
		SequenceNo: f.mgr.NextSequenceNo(),
		Change:     playback.ChangeQueue,
		State:      playback.State{Index: -1, Volume: 1},
	}
}

func (f *fakeSession) Unsubscribe(id string) {
	f.mgr.Unsubscribe(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, id)
}

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) unsubscribedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

func dial(t *testing.T, fs *fakeSession) (*websocket.Conn, string) {
	t.Helper()
	srv := httptest.NewServer(NewHandler(fs))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case id := <-fs.subscribed:
		return conn, id
	case <-time.After(2 * time.Second):
		t.Fatal("client never subscribed")
		return nil, ""
	}
}

func TestNewNowPlaying(t *testing.T) {
	n := &notification.Notification{
		SequenceNo: 4,
		Change:     playback.ChangeTick,
		State: playback.State{
			Queue: []track.Item{
				{ID: 3, Title: "Loop", ArtistName: "M", CoverURL: "https://img/3.png", DurationSeconds: 90},
			},
			Index:    0,
			Playing:  true,
			Position: 30,
			Volume:   0.5,
		},
	}

	got := NewNowPlaying(n)
	assert.Equal(t, NowPlaying{
		SequenceNo: 4,
		Change:     "tick",
		Index:      0,
		Playing:    true,
		TrackID:    3,
		Title:      "Loop",
		Artist:     "M",
		CoverURL:   "https://img/3.png",
		Position:   30,
		Duration:   90,
		Elapsed:    "0:30",
		Remaining:  "-1:00",
		Volume:     0.5,
		QueueSize:  1,
	}, got)
}

func TestHandler_StreamsNotifications(t *testing.T) {
	fs := newFakeSession()
	conn, id := dial(t, fs)

	var initial NowPlaying
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, "queue", initial.Change)
	assert.Equal(t, -1, initial.Index)

	fs.mgr.Publish(playback.State{Index: -1, Volume: 1, Muted: true}, playback.ChangeVolume)

	var next NowPlaying
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "volume", next.Change)
	assert.True(t, next.Muted)
	assert.Greater(t, next.SequenceNo, initial.SequenceNo)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		ids := fs.unsubscribedIDs()
		return len(ids) == 1 && ids[0] == id
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ClosesWhenSessionStops(t *testing.T) {
	fs := newFakeSession()
	conn, id := dial(t, fs)

	var initial NowPlaying
	require.NoError(t, conn.ReadJSON(&initial))

	close(fs.done)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	assert.Eventually(t, func() bool {
		ids := fs.unsubscribedIDs()
		return len(ids) == 1 && ids[0] == id
	}, 2*time.Second, 10*time.Millisecond)
}
