package engine

// Artwork describes one cover image for the now-playing surface.
type Artwork struct {
	Src   string
	Sizes string
	Type  string
}

// Metadata describes the current track for the now-playing surface.
type Metadata struct {
	TrackID  int64
	Title    string
	Artist   string
	Album    string
	Artwork  []Artwork
	Duration float64 // seconds, 0 if unknown
}

// Actions are the system transport controls. Each entry drives a store operation.
type Actions struct {
	Play         func()
	Pause        func()
	Previous     func()
	Next         func()
	SeekForward  func()
	SeekBackward func()
}

// MediaSession is a system-level "now playing" integration.
// The engine publishes metadata to it and binds its controls to the store;
// nothing flows from the session back into metadata.
type MediaSession interface {
	Bind(actions Actions)
	Publish(m Metadata)
	Clear()
}

// StatusReporter is implemented by media sessions that also display the transport state.
type StatusReporter interface {
	SetPlaying(playing bool)
}

func metadataFor(title, artist, cover string, id int64, duration float64) Metadata {
	m := Metadata{
		TrackID:  id,
		Title:    title,
		Artist:   artist,
		Album:    " ",
		Duration: duration,
	}
	if cover != "" {
		m.Artwork = []Artwork{{Src: cover, Sizes: "512x512", Type: "image/png"}}
	}
	return m
}
