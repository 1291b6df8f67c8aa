package session

import (
	"github.com/cockroachdb/errors"
)

// Action names a transport or mode control.
type Action string

// Control actions.
const (
	ActionPlay    Action = "play"
	ActionPause   Action = "pause"
	ActionToggle  Action = "toggle"
	ActionNext    Action = "next"
	ActionPrev    Action = "prev"
	ActionSeek    Action = "seek"
	ActionVolume  Action = "volume"
	ActionMute    Action = "mute"
	ActionUnmute  Action = "unmute"
	ActionShuffle Action = "shuffle"
	ActionRepeat  Action = "repeat"
	ActionRemove  Action = "remove"
)

// ErrUnknownAction is returned for an unrecognised control action.
var ErrUnknownAction = errors.New("unknown action")

// Command is a control request.
// Index is used by play (optional) and remove; Value by seek and volume; On by shuffle.
type Command struct {
	Action Action
	Index  *int
	Value  float64
	On     bool
}

// Control applies cmd to the playback store on the engine loop.
func (m *Manager) Control(cmd Command) error {
	var err error
	if lerr := m.onLoop(func() { err = m.apply(cmd) }); lerr != nil {
		return lerr
	}
	return err
}

func (m *Manager) apply(cmd Command) error {
	s := m.store

	switch cmd.Action {
	case ActionPlay:
		if cmd.Index != nil {
			s.PlayIndex(*cmd.Index)
		} else {
			s.Play()
		}
	case ActionPause:
		s.Pause()
	case ActionToggle:
		s.Toggle()
	case ActionNext:
		s.Next()
	case ActionPrev:
		s.Prev()
	case ActionSeek:
		s.Seek(cmd.Value)
	case ActionVolume:
		s.SetVolume(cmd.Value)
	case ActionMute:
		s.SetMuted(true)
	case ActionUnmute:
		s.SetMuted(false)
	case ActionShuffle:
		s.SetShuffle(cmd.On)
	case ActionRepeat:
		s.CycleRepeat()
	case ActionRemove:
		if cmd.Index == nil {
			return errors.New("remove requires an index")
		}
		s.RemoveAt(*cmd.Index)
	default:
		return errors.Wrapf(ErrUnknownAction, "%q", cmd.Action)
	}
	return nil
}
