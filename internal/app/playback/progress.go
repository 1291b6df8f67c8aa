package playback

import (
	"fmt"
	"math"
)

// Progress holds display-only values derived from a state snapshot.
// They are computed on demand and never stored.
type Progress struct {
	Elapsed      string  // "m:ss"
	Remaining    string  // "-m:ss", empty when the duration is unknown
	Fill         float64 // Seek bar fill, 0..1
	BufferedFill float64 // Buffered bar fill, 0..1
}

// ProgressOf derives display values from s.
// Without a known duration the seek bar measures against max(buffered, position)
// and the buffered bar against buffered itself.
func ProgressOf(s State) Progress {
	p := Progress{Elapsed: FormatClock(s.Position)}

	var duration float64
	if cur, ok := s.Current(); ok {
		duration, _ = cur.Duration()
	}

	if duration > 0 {
		p.Remaining = "-" + FormatClock(math.Max(0, duration-s.Position))
		p.Fill = fraction(s.Position, duration)
		p.BufferedFill = fraction(s.Buffered, duration)
		return p
	}

	p.Fill = fraction(s.Position, math.Max(s.Buffered, s.Position))
	p.BufferedFill = fraction(s.Buffered, s.Buffered)
	return p
}

// FormatClock formats seconds as m:ss. Unknown or negative values render as 0:00.
func FormatClock(sec float64) string {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 {
		return "0:00"
	}
	total := int(math.Floor(sec))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func fraction(v, of float64) float64 {
	if of <= 0 || math.IsNaN(of) || math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v/of))
}
