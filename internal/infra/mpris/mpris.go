// Package mpris exposes the player as an MPRIS media player on the D-Bus session bus.
package mpris

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/app/engine"
)

const (
	objectPath      dbus.ObjectPath = "/org/mpris/MediaPlayer2"
	rootInterface                   = "org.mpris.MediaPlayer2"
	playerInterface                 = "org.mpris.MediaPlayer2.Player"
	busNamePrefix                   = "org.mpris.MediaPlayer2."
	trackPathPrefix                 = "/org/cratebox/track/"
	noTrackPath     dbus.ObjectPath = "/org/mpris/MediaPlayer2/TrackList/NoTrack"
)

// Playback status values.
const (
	StatusPlaying = "Playing"
	StatusPaused  = "Paused"
	StatusStopped = "Stopped"
)

// Session is an engine.MediaSession backed by MPRIS.
type Session struct {
	conn    *dbus.Conn
	props   *prop.Properties
	busName string

	mu      sync.Mutex
	actions engine.Actions
	playing bool
}

var (
	_ engine.MediaSession   = (*Session)(nil)
	_ engine.StatusReporter = (*Session)(nil)
)

// New connects to the session bus and claims org.mpris.MediaPlayer2.<name>.
func New(name string) (*Session, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to session bus")
	}

	s := &Session{conn: conn, busName: busNamePrefix + name}
	if err := s.export(name); err != nil {
		_ = conn.Close()
		return nil, err
	}

	reply, err := conn.RequestName(s.busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to request bus name")
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = conn.Close()
		return nil, errors.Newf("bus name %s already taken", s.busName)
	}

	zlog.Info().Msgf("mpris: registered %s", s.busName)
	return s, nil
}

func (s *Session) export(identity string) error {
	root := &rootObject{}
	player := &playerObject{session: s}

	if err := s.conn.Export(root, objectPath, rootInterface); err != nil {
		return errors.Wrap(err, "failed to export root interface")
	}
	if err := s.conn.Export(player, objectPath, playerInterface); err != nil {
		return errors.Wrap(err, "failed to export player interface")
	}

	props, err := prop.Export(s.conn, objectPath, propSpec(identity))
	if err != nil {
		return errors.Wrap(err, "failed to export properties")
	}
	s.props = props

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       rootInterface,
				Methods:    introspect.Methods(root),
				Properties: props.Introspection(rootInterface),
			},
			{
				Name:       playerInterface,
				Methods:    introspect.Methods(player),
				Properties: props.Introspection(playerInterface),
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return errors.Wrap(err, "failed to export introspection")
	}
	return nil
}

func propSpec(identity string) prop.Map {
	return prop.Map{
		rootInterface: {
			"CanQuit":             {Value: false, Emit: prop.EmitTrue},
			"CanRaise":            {Value: false, Emit: prop.EmitTrue},
			"HasTrackList":        {Value: false, Emit: prop.EmitTrue},
			"Identity":            {Value: identity, Emit: prop.EmitTrue},
			"SupportedUriSchemes": {Value: []string{"http", "https"}, Emit: prop.EmitTrue},
			"SupportedMimeTypes":  {Value: []string{"audio/mpeg", "audio/wav"}, Emit: prop.EmitTrue},
		},
		playerInterface: {
			"PlaybackStatus": {Value: StatusStopped, Emit: prop.EmitTrue},
			"Metadata":       {Value: emptyMetadata(), Emit: prop.EmitTrue},
			"Rate":           {Value: 1.0, Emit: prop.EmitTrue},
			"MinimumRate":    {Value: 1.0, Emit: prop.EmitTrue},
			"MaximumRate":    {Value: 1.0, Emit: prop.EmitTrue},
			"Volume":         {Value: 1.0, Emit: prop.EmitTrue},
			"Position":       {Value: int64(0), Emit: prop.EmitFalse},
			"CanGoNext":      {Value: false, Emit: prop.EmitTrue},
			"CanGoPrevious":  {Value: false, Emit: prop.EmitTrue},
			"CanPlay":        {Value: false, Emit: prop.EmitTrue},
			"CanPause":       {Value: false, Emit: prop.EmitTrue},
			"CanSeek":        {Value: false, Emit: prop.EmitTrue},
			"CanControl":     {Value: true, Emit: prop.EmitConst},
		},
	}
}

// Bind installs the transport handlers. Unset handlers are reported as unavailable.
func (s *Session) Bind(a engine.Actions) {
	s.mu.Lock()
	s.actions = a
	s.mu.Unlock()

	s.set(playerInterface, "CanPlay", a.Play != nil)
	s.set(playerInterface, "CanPause", a.Pause != nil)
	s.set(playerInterface, "CanGoNext", a.Next != nil)
	s.set(playerInterface, "CanGoPrevious", a.Previous != nil)
	s.set(playerInterface, "CanSeek", a.SeekForward != nil && a.SeekBackward != nil)
}

// Publish replaces the now-playing metadata.
func (s *Session) Publish(m engine.Metadata) {
	s.set(playerInterface, "Metadata", Metadata(m))
}

// Clear removes the now-playing metadata.
func (s *Session) Clear() {
	s.set(playerInterface, "Metadata", emptyMetadata())
	s.SetPlaying(false)
}

// SetPlaying updates the playback status.
func (s *Session) SetPlaying(playing bool) {
	s.mu.Lock()
	s.playing = playing
	s.mu.Unlock()

	status := StatusPaused
	if playing {
		status = StatusPlaying
	}
	s.set(playerInterface, "PlaybackStatus", status)
}

// Close releases the bus name and the connection.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.ReleaseName(s.busName); err != nil {
		zlog.Debug().Msgf("mpris: release name: %v", err)
	}
	return s.conn.Close()
}

func (s *Session) set(iface, name string, v any) {
	if s.props == nil {
		return
	}
	s.props.SetMust(iface, name, v)
}

// dispatch runs the handler chosen by pick, if bound.
func (s *Session) dispatch(pick func(a engine.Actions) func()) {
	s.mu.Lock()
	fn := pick(s.actions)
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *Session) isPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Metadata converts engine metadata to the MPRIS metadata map.
func Metadata(m engine.Metadata) map[string]dbus.Variant {
	md := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(dbus.ObjectPath(fmt.Sprintf("%s%d", trackPathPrefix, m.TrackID))),
		"xesam:title":   dbus.MakeVariant(m.Title),
		"xesam:artist":  dbus.MakeVariant([]string{m.Artist}),
		"xesam:album":   dbus.MakeVariant(m.Album),
	}
	if len(m.Artwork) > 0 {
		md["mpris:artUrl"] = dbus.MakeVariant(m.Artwork[0].Src)
	}
	if m.Duration > 0 {
		md["mpris:length"] = dbus.MakeVariant(int64(m.Duration * 1e6))
	}
	return md
}

func emptyMetadata() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(noTrackPath),
	}
}

// rootObject implements org.mpris.MediaPlayer2.
type rootObject struct{}

func (rootObject) Raise() *dbus.Error { return nil }
func (rootObject) Quit() *dbus.Error  { return nil }

// playerObject implements org.mpris.MediaPlayer2.Player.
type playerObject struct {
	session *Session
}

func (p *playerObject) Next() *dbus.Error {
	p.session.dispatch(func(a engine.Actions) func() { return a.Next })
	return nil
}

func (p *playerObject) Previous() *dbus.Error {
	p.session.dispatch(func(a engine.Actions) func() { return a.Previous })
	return nil
}

func (p *playerObject) Play() *dbus.Error {
	p.session.dispatch(func(a engine.Actions) func() { return a.Play })
	return nil
}

func (p *playerObject) Pause() *dbus.Error {
	p.session.dispatch(func(a engine.Actions) func() { return a.Pause })
	return nil
}

func (p *playerObject) Stop() *dbus.Error {
	return p.Pause()
}

func (p *playerObject) PlayPause() *dbus.Error {
	if p.session.isPlaying() {
		return p.Pause()
	}
	return p.Play()
}

// Seek moves by one seek step in the direction of offset; the magnitude is ignored.
func (p *playerObject) Seek(offset int64) *dbus.Error {
	switch {
	case offset > 0:
		p.session.dispatch(func(a engine.Actions) func() { return a.SeekForward })
	case offset < 0:
		p.session.dispatch(func(a engine.Actions) func() { return a.SeekBackward })
	}
	return nil
}

func (p *playerObject) SetPosition(_ dbus.ObjectPath, _ int64) *dbus.Error {
	return dbus.MakeFailedError(errors.New("absolute positioning is not supported"))
}

func (p *playerObject) OpenUri(_ string) *dbus.Error {
	return dbus.MakeFailedError(errors.New("opening URIs is not supported"))
}
