package conn

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDropped is returned for a typing intent that found no room.
	ErrDropped = errors.New("send queue full, typing intent dropped")
	// ErrQueueClosed is returned once the session is torn down.
	ErrQueueClosed = errors.New("send queue closed")
)

// SendQueue is the bounded outbound queue between the session and the
// transport writer. Producers block for message and read intents when it is
// full; typing intents are evicted oldest first instead.
//
// The single consumer uses Peek and Commit so an intent leaves the queue
// only after it was written.
type SendQueue struct {
	mu       sync.Mutex
	items    []Intent
	size     int
	inflight bool
	closed   bool
	changed  chan struct{}
	now      func() time.Time

	// OnEvict is called, under the queue lock, for each typing intent
	// dropped to make room.
	OnEvict func(Intent)
}

func NewSendQueue(size int, now func() time.Time) *SendQueue {
	if size <= 0 {
		size = 1
	}
	if now == nil {
		now = time.Now
	}
	return &SendQueue{size: size, changed: make(chan struct{}), now: now}
}

// broadcast wakes every waiter. Caller holds mu.
func (q *SendQueue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Push enqueues it, waiting for room when it is not perishable.
func (q *SendQueue) Push(ctx context.Context, it Intent) error {
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = q.now()
	}
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if len(q.items) < q.size || q.evictTyping() {
			q.items = append(q.items, it)
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		if it.Perishable() {
			q.mu.Unlock()
			return ErrDropped
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// evictTyping removes the oldest typing intent not being written. Caller
// holds mu.
func (q *SendQueue) evictTyping() bool {
	start := 0
	if q.inflight {
		start = 1
	}
	for i := start; i < len(q.items); i++ {
		if q.items[i].Perishable() {
			if q.OnEvict != nil {
				q.OnEvict(q.items[i])
			}
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Peek waits for the head intent and returns it without removing it.
func (q *SendQueue) Peek(ctx context.Context) (Intent, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Intent{}, ErrQueueClosed
		}
		if len(q.items) > 0 {
			q.inflight = true
			it := q.items[0]
			q.mu.Unlock()
			return it, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Intent{}, ctx.Err()
		case <-wait:
		}
	}
}

// Commit removes the head returned by the last Peek.
func (q *SendQueue) Commit() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 && q.inflight {
		q.items = q.items[1:]
	}
	q.inflight = false
	q.broadcast()
}

// Release gives up the head after a failed write; it stays queued.
func (q *SendQueue) Release() {
	q.mu.Lock()
	q.inflight = false
	q.mu.Unlock()
}

func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued intents in order.
func (q *SendQueue) Snapshot() []Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Intent, len(q.items))
	copy(out, q.items)
	return out
}

// Close wakes every waiter with ErrQueueClosed and returns what was left.
func (q *SendQueue) Close() []Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	left := q.items
	q.items = nil
	q.broadcast()
	return left
}
