package engine

import (
	"context"
	"sync"
)

// Loop runs posted functions one at a time, in order.
type Loop interface {
	Post(fn func())
}

// Scheduler schedules a callback for the next frame.
// Each call schedules a single invocation; the returned function cancels it.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// EventLoop is a single-goroutine Loop. Post never blocks, so it is safe to
// post from inside a running task.
type EventLoop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewEventLoop creates a new event loop. Call Run to start processing.
func NewEventLoop() *EventLoop {
	return &EventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn. Functions posted after the loop stopped are dropped.
func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do posts fn and waits for it to finish. It must not be called from a loop task.
// It returns false if the loop stopped before fn ran.
func (l *EventLoop) Do(fn func()) bool {
	ran := make(chan struct{})
	l.Post(func() {
		fn()
		close(ran)
	})

	select {
	case <-ran:
		return true
	case <-l.done:
		// The loop may have drained fn just before stopping.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Run processes posted functions until ctx is done.
func (l *EventLoop) Run(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.queue = nil
			l.mu.Unlock()
			return
		case <-l.wake:
			for {
				l.mu.Lock()
				tasks := l.queue
				l.queue = nil
				l.mu.Unlock()

				if len(tasks) == 0 {
					break
				}
				for _, fn := range tasks {
					fn()
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}
