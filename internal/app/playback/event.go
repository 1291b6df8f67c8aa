package playback

// Change identifies which slice of the state an operation touched.
type Change int

const (
	ChangeQueue     Change = iota // Queue replaced or an item removed
	ChangeTrack                   // Current track moved or restarted
	ChangeTransport               // Playing flag changed
	ChangeSeek                    // Position set by a user seek
	ChangeVolume                  // Volume or mute changed
	ChangeMode                    // Shuffle or repeat changed
	ChangeTick                    // Position/buffered reported by the engine
)

// String returns the string representation of the change.
func (c Change) String() string {
	switch c {
	case ChangeQueue:
		return "queue"
	case ChangeTrack:
		return "track"
	case ChangeTransport:
		return "transport"
	case ChangeSeek:
		return "seek"
	case ChangeVolume:
		return "volume"
	case ChangeMode:
		return "mode"
	case ChangeTick:
		return "tick"
	default:
		return "unknown"
	}
}

// Listener is notified after every applied store operation.
// Notifications are delivered in the order the operations were applied.
type Listener func(s State, c Change)
