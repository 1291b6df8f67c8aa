package playback

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"

	"github.com/osa030/cratebox/internal/domain/track"
)

// RestartThreshold is the elapsed time (seconds) after which Prev restarts
// the current track instead of moving to the previous one.
const RestartThreshold = 3.0

// Option configures a Store.
type Option func(*Store)

// WithRand sets the random source used for shuffle selection.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) {
		s.rng = r
	}
}

// WithVolume sets the initial volume.
func WithVolume(v float64) Option {
	return func(s *Store) {
		s.state.Volume = clamp01(v)
	}
}

type notice struct {
	state  State
	change Change
}

type subscriber struct {
	id int
	fn Listener
}

// Store holds the playback state. It is the only writer of that state;
// every operation is synchronous and total.
type Store struct {
	mu    sync.Mutex
	state State
	rng   *rand.Rand

	// Notification dispatch
	subscribers []subscriber
	nextID      int
	pending     []notice
	dispatching bool
}

// NewStore creates a new store with an empty queue.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: State{
			Index:  -1,
			Volume: 1,
			Repeat: RepeatOff,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		var seed int64
		if err := binary.Read(cryptoRand.Reader, binary.BigEndian, &seed); err != nil {
			seed = int64(math.MaxInt32)
		}
		s.rng = rand.New(rand.NewSource(seed))
	}
	return s
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener and returns a function that removes it.
// Listeners may call store operations; those are delivered after the current notification.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// SetQueue replaces the queue and starts playback at startIndex.
// An empty queue stops playback and sets the index to -1.
func (s *Store) SetQueue(items []track.Item, startIndex int) {
	queue := make([]track.Item, len(items))
	copy(queue, items)

	s.update(func(st *State) (Change, bool) {
		st.Queue = queue
		st.Position = 0
		if len(queue) == 0 {
			st.Index = -1
			st.Playing = false
			return ChangeQueue, true
		}
		st.Index = clampIndex(startIndex, len(queue))
		st.Playing = true
		return ChangeQueue, true
	})
}

// Play resumes playback of the current track. It is a no-op on an empty queue.
func (s *Store) Play() {
	s.update(func(st *State) (Change, bool) {
		if st.Index < 0 {
			return ChangeTransport, false
		}
		st.Playing = true
		return ChangeTransport, true
	})
}

// PlayIndex starts playback at idx. Out-of-range indices are ignored.
func (s *Store) PlayIndex(idx int) {
	s.update(func(st *State) (Change, bool) {
		if idx < 0 || idx >= len(st.Queue) {
			return ChangeTrack, false
		}
		if idx != st.Index {
			st.Position = 0
		}
		st.Index = idx
		st.Playing = true
		return ChangeTrack, true
	})
}

// Pause stops playback without moving the index or position.
func (s *Store) Pause() {
	s.update(func(st *State) (Change, bool) {
		st.Playing = false
		return ChangeTransport, true
	})
}

// Toggle flips the playing flag.
func (s *Store) Toggle() {
	s.update(func(st *State) (Change, bool) {
		st.Playing = !st.Playing
		return ChangeTransport, true
	})
}

// Next advances according to the repeat and shuffle policy.
// Rules apply in order: repeat one restarts the current track, shuffle picks
// any other index, otherwise the queue advances sequentially and either wraps
// (repeat all) or stops on the last track.
func (s *Store) Next() {
	s.update(func(st *State) (Change, bool) {
		if len(st.Queue) == 0 {
			return ChangeTrack, false
		}

		if st.Repeat == RepeatOne {
			st.Position = 0
			st.Playing = true
			return ChangeTrack, true
		}

		if st.Shuffle {
			st.Index = s.pickShuffled(st)
			st.Position = 0
			st.Playing = true
			return ChangeTrack, true
		}

		if st.isLast() {
			if st.Repeat != RepeatAll {
				// The track stays loaded at its end.
				st.Playing = false
				return ChangeTransport, true
			}
			st.Index = 0
		} else {
			st.Index++
		}
		st.Position = 0
		st.Playing = true
		return ChangeTrack, true
	})
}

// Prev restarts the current track after RestartThreshold seconds of listening,
// otherwise moves to the previous track (floored at the first one).
func (s *Store) Prev() {
	s.update(func(st *State) (Change, bool) {
		if len(st.Queue) == 0 {
			return ChangeTrack, false
		}
		if st.Position > RestartThreshold {
			st.Position = 0
			return ChangeSeek, true
		}
		if st.Index > 0 {
			st.Index--
		} else {
			st.Index = 0
		}
		st.Position = 0
		st.Playing = true
		return ChangeTrack, true
	})
}

// Seek sets the position. Negative values are floored at zero; there is no upper bound.
func (s *Store) Seek(sec float64) {
	s.update(func(st *State) (Change, bool) {
		if math.IsNaN(sec) || sec < 0 {
			sec = 0
		}
		st.Position = sec
		return ChangeSeek, true
	})
}

// SetVolume clamps v into [0,1]. A resulting volume of exactly zero also mutes;
// unmuting later does not restore the previous volume.
func (s *Store) SetVolume(v float64) {
	s.update(func(st *State) (Change, bool) {
		st.Volume = clamp01(v)
		if st.Volume == 0 {
			st.Muted = true
		}
		return ChangeVolume, true
	})
}

// SetMuted sets the mute flag.
func (s *Store) SetMuted(m bool) {
	s.update(func(st *State) (Change, bool) {
		st.Muted = m
		return ChangeVolume, true
	})
}

// SetShuffle sets the shuffle flag.
func (s *Store) SetShuffle(on bool) {
	s.update(func(st *State) (Change, bool) {
		st.Shuffle = on
		return ChangeMode, true
	})
}

// CycleRepeat advances the repeat mode: off -> one -> all -> off.
func (s *Store) CycleRepeat() {
	s.update(func(st *State) (Change, bool) {
		st.Repeat = st.Repeat.Next()
		return ChangeMode, true
	})
}

// OnTick records the position and buffered end reported by the audio resource.
// Both values are taken as-is; buffered may trail position during a stall.
func (s *Store) OnTick(pos, buf float64) {
	s.update(func(st *State) (Change, bool) {
		st.Position = pos
		st.Buffered = buf
		return ChangeTick, true
	})
}

// RemoveAt removes the queue entry at k. Out-of-range indices are ignored.
// Removing at or before the current index moves the index back by one (floored at 0);
// removing the last remaining entry empties the queue and stops playback.
func (s *Store) RemoveAt(k int) {
	s.update(func(st *State) (Change, bool) {
		if k < 0 || k >= len(st.Queue) {
			return ChangeQueue, false
		}

		queue := make([]track.Item, 0, len(st.Queue)-1)
		queue = append(queue, st.Queue[:k]...)
		queue = append(queue, st.Queue[k+1:]...)
		st.Queue = queue

		if len(queue) == 0 {
			st.Index = -1
			st.Playing = false
			st.Position = 0
			return ChangeQueue, true
		}

		if k == st.Index {
			st.Position = 0
		}
		if k <= st.Index {
			st.Index--
			if st.Index < 0 {
				st.Index = 0
			}
		}
		return ChangeQueue, true
	})
}

// pickShuffled chooses uniformly among all indices except the current one.
// A single-entry queue re-selects the current index.
func (s *Store) pickShuffled(st *State) int {
	n := len(st.Queue)
	if n <= 1 {
		return st.Index
	}
	if st.Index < 0 || st.Index >= n {
		return s.rng.Intn(n)
	}
	k := s.rng.Intn(n - 1)
	if k >= st.Index {
		k++
	}
	return k
}

// update applies fn under the lock and, if it reports a change, notifies
// subscribers. A caller already dispatching delivers queued notices in order,
// so nested and concurrent updates are observed in the order they were applied.
func (s *Store) update(fn func(st *State) (Change, bool)) {
	s.mu.Lock()
	change, ok := fn(&s.state)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, notice{state: s.state, change: change})
	if s.dispatching {
		s.mu.Unlock()
		return
	}

	s.dispatching = true
	for len(s.pending) > 0 {
		n := s.pending[0]
		s.pending = s.pending[1:]
		subs := make([]subscriber, len(s.subscribers))
		copy(subs, s.subscribers)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.fn(n.state, n.change)
		}

		s.mu.Lock()
	}
	s.dispatching = false
	s.mu.Unlock()
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
