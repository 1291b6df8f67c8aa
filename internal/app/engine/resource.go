package engine

import "github.com/cockroachdb/errors"

// ErrStartRejected is returned by Resource.Play when the output refuses to
// start without a fresh user action. The engine absorbs it.
var ErrStartRejected = errors.New("playback start rejected")

// Resource is the single audio-producing primitive driven by the engine.
// Implementations may emit events from any goroutine.
type Resource interface {
	// Load replaces the current source. An empty src unloads the resource.
	Load(src string) error
	// Source returns the currently loaded source, or "" when nothing is loaded.
	Source() string
	// Play starts or resumes output of the loaded source.
	Play() error
	// Pause halts output. It is a no-op when already paused.
	Pause()
	// Paused reports whether output is halted, including after a natural end.
	Paused() bool
	SetVolume(v float64)
	SetMuted(m bool)
	// CurrentTime returns the elapsed seconds of the loaded source.
	CurrentTime() float64
	// Seek moves the playhead to sec.
	Seek(sec float64)
	// BufferedEnd returns the end (seconds) of the last buffered range.
	BufferedEnd() float64
	// OnEnded registers fn for the natural end of the loaded source and
	// returns a function that detaches it.
	OnEnded(fn func()) (remove func())
	// Close releases the resource.
	Close() error
}
