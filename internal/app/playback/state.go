// Package playback provides the playback state store: the play queue together with
// transport, volume and repeat/shuffle state, transitioned by synchronous operations.
package playback

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/cratebox/internal/domain/track"
)

// RepeatMode represents the repeat policy applied when advancing.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota // Stop at the end of the queue
	RepeatOne                   // Loop the current track
	RepeatAll                   // Loop the whole queue
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "unknown"
	}
}

// Next returns the following mode in the cycle off -> one -> all -> off.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatOne
	case RepeatOne:
		return RepeatAll
	default:
		return RepeatOff
	}
}

// ParseRepeatMode parses a repeat mode name.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch s {
	case "off":
		return RepeatOff, nil
	case "one":
		return RepeatOne, nil
	case "all":
		return RepeatAll, nil
	default:
		return RepeatOff, errors.Newf("unknown repeat mode: %q", s)
	}
}

// State is a snapshot of the playback state.
//
// Queue is shared between snapshots and must be treated as read-only;
// the store replaces it wholesale instead of modifying it in place.
type State struct {
	Queue    []track.Item // Tracks in playback order
	Index    int          // Current track, -1 when the queue is empty
	Playing  bool         // Transport intent
	Volume   float64      // 0..1
	Muted    bool         // Independent of Volume except for SetVolume(0)
	Shuffle  bool         // Affects Next selection only
	Repeat   RepeatMode   // Repeat policy
	Position float64      // Seconds into the current track
	Buffered float64      // Seconds available from the start of the current track
}

// Current returns the track at Index.
func (s State) Current() (track.Item, bool) {
	if s.Index < 0 || s.Index >= len(s.Queue) {
		return track.Item{}, false
	}
	return s.Queue[s.Index], true
}

// IsEmpty returns true if the queue has no tracks.
func (s State) IsEmpty() bool {
	return len(s.Queue) == 0
}

// isLast reports whether Index points at the final queue entry.
func (s State) isLast() bool {
	return s.Index >= len(s.Queue)-1
}
