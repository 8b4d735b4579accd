// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"sync"
)

// keyedQueue serializes work per key in arrival order. Each enqueue
// links a new ticket behind the current tail for its key; a ticket
// runs once every earlier ticket for the same key has finished. Work
// under different keys proceeds independently.
type keyedQueue struct {
	mu    sync.Mutex
	tails map[string]*ticket
}

type ticket struct {
	key string
	// previous is closed when the ticket ahead of this one finishes.
	// Nil for the head of the queue.
	previous <-chan struct{}
	done     chan struct{}
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{tails: make(map[string]*ticket)}
}

// enqueue appends a ticket for key. Arrival order is the order of
// enqueue calls, so callers that need FIFO across a stream must call
// enqueue from the goroutine reading the stream.
func (q *keyedQueue) enqueue(key string) *ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := &ticket{key: key, done: make(chan struct{})}
	if tail, exists := q.tails[key]; exists {
		entry.previous = tail.done
	}
	q.tails[key] = entry
	return entry
}

// wait blocks until the ticket reaches the head of its queue. A
// cancelled ctx abandons the wait; the caller must still call finish.
func (t *ticket) wait(ctx context.Context) error {
	if t.previous == nil {
		return nil
	}
	select {
	case <-t.previous:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish releases the next ticket for the same key. A ticket that
// abandoned its wait releases only after the tickets ahead of it have
// finished, so the work behind it stays serialized.
func (q *keyedQueue) finish(t *ticket) {
	if t.previous != nil {
		select {
		case <-t.previous:
		default:
			go func() {
				<-t.previous
				q.release(t)
			}()
			return
		}
	}
	q.release(t)
}

func (q *keyedQueue) release(t *ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	close(t.done)
	if q.tails[t.key] == t {
		delete(q.tails, t.key)
	}
}

// length returns the number of keys with queued or running work.
func (q *keyedQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
