// Package ws serves the now-playing feed over websockets.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/app/notification"
	"github.com/osa030/cratebox/internal/app/playback"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// ErrSlowClient is returned when a client's send buffer is full.
var ErrSlowClient = errors.New("websocket client send buffer full")

// Subscriber is the session surface the feed needs.
type Subscriber interface {
	Subscribe(stream notification.Stream) (string, *notification.Notification)
	Unsubscribe(id string)
	Done() <-chan struct{}
}

// NowPlaying is one feed message.
type NowPlaying struct {
	SequenceNo uint64  `json:"sequenceNo"`
	Change     string  `json:"change"`
	Index      int     `json:"index"`
	Playing    bool    `json:"playing"`
	TrackID    int64   `json:"trackId,omitempty"`
	Title      string  `json:"title,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	CoverURL   string  `json:"coverUrl,omitempty"`
	Position   float64 `json:"position"`
	Duration   float64 `json:"duration,omitempty"`
	Elapsed    string  `json:"elapsed"`
	Remaining  string  `json:"remaining,omitempty"`
	Volume     float64 `json:"volume"`
	Muted      bool    `json:"muted"`
	QueueSize  int     `json:"queueSize"`
}

// NewNowPlaying builds a feed message from a notification.
func NewNowPlaying(n *notification.Notification) NowPlaying {
	st := n.State
	p := playback.ProgressOf(st)
	msg := NowPlaying{
		SequenceNo: n.SequenceNo,
		Change:     n.Change.String(),
		Index:      st.Index,
		Playing:    st.Playing,
		Position:   st.Position,
		Elapsed:    p.Elapsed,
		Remaining:  p.Remaining,
		Volume:     st.Volume,
		Muted:      st.Muted,
		QueueSize:  len(st.Queue),
	}
	if cur, ok := st.Current(); ok {
		msg.TrackID = cur.ID
		msg.Title = cur.Title
		msg.Artist = cur.ArtistName
		msg.CoverURL = cur.CoverURL
		msg.Duration = cur.DurationSeconds
	}
	return msg
}

// Handler upgrades requests and streams now-playing messages until the client goes away.
type Handler struct {
	session  Subscriber
	upgrader websocket.Upgrader
}

// NewHandler creates a feed handler.
func NewHandler(session Subscriber) *Handler {
	return &Handler{
		session: session,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("ws: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	id, initial := h.session.Subscribe(c)
	zlog.Debug().Msgf("ws: client %s connected from %s", id, r.RemoteAddr)

	if err := c.Send(initial); err != nil {
		zlog.Debug().Msgf("ws: initial send to %s: %v", id, err)
	}

	done := make(chan struct{})
	go func() {
		c.writePump(done, h.session.Done())
	}()
	c.readPump()

	h.session.Unsubscribe(id)
	close(done)
	zlog.Debug().Msgf("ws: client %s disconnected", id)
}

// client adapts a websocket connection to notification.Stream.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) Send(n *notification.Notification) error {
	data, err := json.Marshal(NewNowPlaying(n))
	if err != nil {
		return errors.Wrap(err, "failed to marshal now playing")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowClient
	}
}

// readPump discards client messages and keeps the read deadline alive.
func (c *client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				zlog.Debug().Msgf("ws: read error: %v", err)
			}
			return
		}
	}
}

// writePump closes the connection when the client leaves or the session stops.
func (c *client) writePump(done, sessionDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-sessionDone:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stopped"))
			return
		}
	}
}
