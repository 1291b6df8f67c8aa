package connect

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/cratebox/internal/app/notification"
	"github.com/osa030/cratebox/internal/app/playback"
	"github.com/osa030/cratebox/internal/app/session"
	"github.com/osa030/cratebox/internal/domain/crate"
	"github.com/osa030/cratebox/internal/domain/track"
)

// StatusMap renders a session status as a JSON-compatible map.
func StatusMap(s session.Status) map[string]any {
	m := StateMap(s.State)
	m["sessionId"] = s.SessionID
	m["running"] = s.Running
	m["elapsed"] = s.Progress.Elapsed
	m["remaining"] = s.Progress.Remaining
	m["fill"] = s.Progress.Fill
	m["bufferedFill"] = s.Progress.BufferedFill
	return m
}

// StateMap renders a playback state as a JSON-compatible map.
func StateMap(st playback.State) map[string]any {
	queue := make([]any, len(st.Queue))
	for i, t := range st.Queue {
		queue[i] = ItemMap(t)
	}

	m := map[string]any{
		"index":    st.Index,
		"playing":  st.Playing,
		"volume":   st.Volume,
		"muted":    st.Muted,
		"shuffle":  st.Shuffle,
		"repeat":   st.Repeat.String(),
		"position": st.Position,
		"buffered": st.Buffered,
		"queue":    queue,
	}
	if cur, ok := st.Current(); ok {
		m["current"] = ItemMap(cur)
	}
	return m
}

// ItemMap renders a track as a JSON-compatible map.
func ItemMap(t track.Item) map[string]any {
	links := make([]any, len(t.Links))
	for i, l := range t.Links {
		links[i] = map[string]any{
			"id":         l.ID,
			"source":     l.Source,
			"url":        l.URL,
			"previewUrl": l.PreviewURL,
		}
	}
	preview, _ := t.PreviewSource()
	return map[string]any{
		"id":         t.ID,
		"title":      t.Title,
		"artist":     t.ArtistName,
		"coverUrl":   t.CoverURL,
		"duration":   t.DurationSeconds,
		"previewUrl": preview,
		"bpm":        t.BPM,
		"key":        t.KeyText,
		"links":      links,
	}
}

// RowMap renders a crate row as a JSON-compatible map.
func RowMap(r crate.Row) map[string]any {
	return map[string]any{
		"title":  r.Title,
		"artist": r.Artist,
		"bpm":    r.BPM,
		"key":    r.Key,
		"url":    r.URL,
	}
}

// NotificationMap renders a state notification.
func NotificationMap(n *notification.Notification) map[string]any {
	p := playback.ProgressOf(n.State)
	return map[string]any{
		"sequenceNo": n.SequenceNo,
		"change":     n.Change.String(),
		"state":      StateMap(n.State),
		"progress": map[string]any{
			"elapsed":   p.Elapsed,
			"remaining": p.Remaining,
		},
	}
}

func items(ts []track.Item) []any {
	out := make([]any, len(ts))
	for i, t := range ts {
		out[i] = ItemMap(t)
	}
	return out
}

func rows(rs []crate.Row) []any {
	out := make([]any, len(rs))
	for i, r := range rs {
		out[i] = RowMap(r)
	}
	return out
}

func field(s *structpb.Struct, name string) (*structpb.Value, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.GetFields()[name]
	return v, ok
}

func stringField(s *structpb.Struct, name string) string {
	v, _ := field(s, name)
	return v.GetStringValue()
}

func numberField(s *structpb.Struct, name string) float64 {
	v, _ := field(s, name)
	return v.GetNumberValue()
}

func boolField(s *structpb.Struct, name string) bool {
	v, _ := field(s, name)
	return v.GetBoolValue()
}

// intField returns the named number as an int, or nil when absent.
func intField(s *structpb.Struct, name string) *int {
	v, ok := field(s, name)
	if !ok {
		return nil
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return nil
	}
	i := int(v.GetNumberValue())
	return &i
}
