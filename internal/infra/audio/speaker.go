package audio

import (
	"bytes"
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/app/engine"
)

const (
	defaultSampleRate = 44100
	defaultBufferSize = 100 * time.Millisecond
	resampleQuality   = 4
)

// voice is one decoded source attached to the speaker.
type voice struct {
	stream beep.StreamSeekCloser
	format beep.Format
	ctrl   *beep.Ctrl
	volume *effects.Volume
}

// Speaker plays sources on the default output device.
// Sources are downloaded and decoded in the background after Load.
type Speaker struct {
	mu sync.Mutex

	sampleRate beep.SampleRate
	bufferSize time.Duration
	fetcher    *fetcher

	deviceReady bool

	src       string
	gen       uint64
	cancel    context.CancelFunc
	voice     *voice
	attached  bool
	loadErr   error
	paused    bool
	seekTo    float64 // Position applied once the source is decoded
	volume    float64
	muted     bool
	listeners endedListeners
}

var _ engine.Resource = (*Speaker)(nil)

// NewSpeaker creates a speaker resource. The device is opened on the first Play.
func NewSpeaker(cfg Config) *Speaker {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	buf := cfg.BufferSize
	if buf <= 0 {
		buf = defaultBufferSize
	}
	return &Speaker{
		sampleRate: beep.SampleRate(rate),
		bufferSize: buf,
		fetcher:    newFetcher(cfg.FetchTimeout),
		paused:     true,
		volume:     1,
	}
}

// Load replaces the source and starts downloading it.
func (s *Speaker) Load(src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unloadLocked()
	if src == "" {
		return nil
	}
	if err := validateSource(src); err != nil {
		return err
	}

	s.src = src
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.load(ctx, s.gen, src)

	return nil
}

func (s *Speaker) load(ctx context.Context, gen uint64, src string) {
	body, f, err := s.fetcher.fetch(ctx, src)
	var v *voice
	if err == nil {
		v, err = decode(body, f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		if v != nil {
			_ = v.stream.Close()
		}
		return
	}
	if err != nil {
		s.loadErr = err
		zlog.Warn().Err(err).Msgf("speaker: failed to load %s", src)
		return
	}

	s.voice = v
	s.seekLocked(s.seekTo)
	zlog.Debug().Msgf("speaker: decoded %s (%s, %.1fs)", src, f, v.format.SampleRate.D(v.stream.Len()).Seconds())

	if !s.paused {
		s.attachLocked()
	}
}

// decode turns a downloaded body into a seekable stream.
func decode(body []byte, f format) (*voice, error) {
	var (
		stream beep.StreamSeekCloser
		bf     beep.Format
		err    error
	)
	switch f {
	case formatWAV:
		stream, bf, err = wav.Decode(bytes.NewReader(body))
	default:
		stream, bf, err = mp3.Decode(readSeekNopCloser{bytes.NewReader(body)})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", f)
	}
	return &voice{stream: stream, format: bf}, nil
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

// Source returns the loaded source.
func (s *Speaker) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// Play opens the device if needed and starts output.
// An unavailable device is reported as engine.ErrStartRejected.
func (s *Speaker) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src == "" {
		return ErrNoSource
	}
	if s.loadErr != nil {
		return errors.Wrap(s.loadErr, "source unavailable")
	}
	if err := s.openDeviceLocked(); err != nil {
		return err
	}

	s.paused = false
	if s.voice == nil {
		// Starts once decoding finishes.
		return nil
	}

	if s.voice.stream.Position() >= s.voice.stream.Len() {
		s.seekLocked(0)
	}
	if !s.attached {
		s.attachLocked()
		return nil
	}

	speaker.Lock()
	s.voice.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

func (s *Speaker) openDeviceLocked() error {
	if s.deviceReady {
		return nil
	}
	if err := speaker.Init(s.sampleRate, s.sampleRate.N(s.bufferSize)); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to open audio device"), engine.ErrStartRejected)
	}
	s.deviceReady = true
	return nil
}

// attachLocked hands the voice to the speaker mixer.
func (s *Speaker) attachLocked() {
	v := s.voice
	gen := s.gen

	var streamer beep.Streamer = v.stream
	if v.format.SampleRate != s.sampleRate {
		streamer = beep.Resample(resampleQuality, v.format.SampleRate, s.sampleRate, v.stream)
	}

	v.ctrl = &beep.Ctrl{
		Streamer: beep.Seq(streamer, beep.Callback(func() {
			// Runs on the speaker goroutine with the speaker locked.
			go s.onEnd(gen)
		})),
	}
	v.volume = &effects.Volume{Streamer: v.ctrl, Base: 2}
	applyVolume(v.volume, s.volume, s.muted)

	s.attached = true
	speaker.Play(v.volume)
}

func (s *Speaker) onEnd(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.attached {
		s.mu.Unlock()
		return
	}
	s.attached = false
	s.paused = true
	s.mu.Unlock()

	s.listeners.fire()
}

// Pause halts output.
func (s *Speaker) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = true
	if s.voice != nil && s.attached {
		speaker.Lock()
		s.voice.ctrl.Paused = true
		speaker.Unlock()
	}
}

// Paused reports whether output is halted.
func (s *Speaker) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Speaker) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	s.applyVolumeLocked()
}

func (s *Speaker) SetMuted(m bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = m
	s.applyVolumeLocked()
}

func (s *Speaker) applyVolumeLocked() {
	if s.voice == nil || s.voice.volume == nil {
		return
	}
	speaker.Lock()
	applyVolume(s.voice.volume, s.volume, s.muted)
	speaker.Unlock()
}

// applyVolume maps a linear [0,1] gain onto the log2 scale of effects.Volume.
func applyVolume(v *effects.Volume, gain float64, muted bool) {
	if muted || gain <= 0 {
		v.Silent = true
		return
	}
	v.Silent = false
	v.Volume = math.Log2(gain)
}

// CurrentTime returns the elapsed seconds of the decoded source.
func (s *Speaker) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.voice == nil {
		return s.seekTo
	}
	if s.attached {
		speaker.Lock()
		defer speaker.Unlock()
	}
	return s.voice.format.SampleRate.D(s.voice.stream.Position()).Seconds()
}

// Seek moves the playhead. Before decoding finishes the position is remembered.
func (s *Speaker) Seek(sec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if math.IsNaN(sec) || sec < 0 {
		sec = 0
	}
	if s.voice == nil {
		s.seekTo = sec
		return
	}
	s.seekLocked(sec)
}

func (s *Speaker) seekLocked(sec float64) {
	v := s.voice
	n := v.format.SampleRate.N(duration(sec))
	if n >= v.stream.Len() {
		n = v.stream.Len() - 1
	}
	n = max(n, 0)

	if s.attached {
		speaker.Lock()
		defer speaker.Unlock()
	}
	if err := v.stream.Seek(n); err != nil {
		zlog.Warn().Err(err).Msg("speaker: seek failed")
	}
	s.seekTo = 0
}

// BufferedEnd returns the decoded length once the whole source has been downloaded.
func (s *Speaker) BufferedEnd() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.voice == nil {
		return 0
	}
	return s.voice.format.SampleRate.D(s.voice.stream.Len()).Seconds()
}

// OnEnded registers fn for the natural end of the source.
func (s *Speaker) OnEnded(fn func()) func() {
	return s.listeners.add(fn)
}

// Close unloads the source and releases the device.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unloadLocked()
	if s.deviceReady {
		speaker.Close()
		s.deviceReady = false
	}
	return nil
}

func (s *Speaker) unloadLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.attached {
		speaker.Clear()
		s.attached = false
	}
	if s.voice != nil {
		if err := s.voice.stream.Close(); err != nil {
			zlog.Debug().Err(err).Msg("speaker: failed to close stream")
		}
		s.voice = nil
	}
	s.src = ""
	s.loadErr = nil
	s.paused = true
	s.seekTo = 0
}
