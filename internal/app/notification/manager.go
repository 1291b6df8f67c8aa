// Package notification provides the notification manager for broadcasting player state.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/app/playback"
)

// DefaultTickInterval is the minimum spacing of tick-only notifications.
const DefaultTickInterval = time.Second

const sendTimeout = 500 * time.Millisecond

// Notification is one broadcast state snapshot.
type Notification struct {
	SequenceNo uint64
	Change     playback.Change
	State      playback.State
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription

	sequenceNo   uint64
	sequenceNoMu sync.Mutex

	tickInterval time.Duration
	lastTick     time.Time
	tickMu       sync.Mutex
}

// NewManager creates a new notification manager.
// Tick-only changes are broadcast at most once per tickInterval.
func NewManager(tickInterval time.Duration) *Manager {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Manager{
		subscriptions: make(map[string]*subscription),
		tickInterval:  tickInterval,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Publish broadcasts a state change. Tick-only changes are throttled.
// It reports whether the change was broadcast.
func (m *Manager) Publish(s playback.State, c playback.Change) bool {
	if c == playback.ChangeTick && !m.tickDue() {
		return false
	}
	m.Broadcast(&Notification{Change: c, State: s})
	return true
}

func (m *Manager) tickDue() bool {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	now := time.Now()
	if !m.lastTick.IsZero() && now.Sub(m.lastTick) < m.tickInterval {
		return false
	}
	m.lastTick = now
	return true
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Broadcast stamps a sequence number and sends the notification to all subscribers.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager) Broadcast(notification *Notification) {
	notification.SequenceNo = m.NextSequenceNo()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(notification)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Err(err).Msgf("notification: send to %s failed", s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send to %s timed out", s.id)
			}
		}(sub)
	}

	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
