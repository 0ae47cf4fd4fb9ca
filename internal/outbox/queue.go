// Package outbox buffers roster events and delivers them to Kafka.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"example.com/extracurricular/internal/events"
)

// ErrQueueFull is returned by Record when the buffer has no room for another event.
var ErrQueueFull = errors.New("outbox queue full")

type pending struct {
	event     events.RosterChanged
	payload   []byte
	attempts  int
	notBefore time.Time
	lastError string
}

// Queue is a bounded in-memory outbox. It satisfies domain.EventRecorder.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []pending
}

// NewQueue constructs a Queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{capacity: capacity, items: make([]pending, 0, capacity)}
}

// Record appends the event without blocking. A full queue drops the event.
func (q *Queue) Record(_ context.Context, event events.RosterChanged) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		droppedCounter.Inc()
		return ErrQueueFull
	}
	q.items = append(q.items, pending{event: event})
	queueDepth.Set(float64(len(q.items)))
	return nil
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// take removes up to limit events that are due at now, preserving queue order.
// Once an event for an activity stays queued, later events for that activity
// stay queued too, so an activity's events are never published out of order.
func (q *Queue) take(limit int, now time.Time) []pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]pending, 0, limit)
	held := make(map[string]struct{})
	kept := q.items[:0]
	for _, item := range q.items {
		key := item.event.Activity
		_, blocked := held[key]
		if !blocked && len(due) < limit && !item.notBefore.After(now) {
			due = append(due, item)
			continue
		}
		held[key] = struct{}{}
		kept = append(kept, item)
	}
	q.items = kept
	queueDepth.Set(float64(len(q.items)))
	return due
}

// requeue puts retried events back at the head of the queue. Retries are
// allowed to exceed capacity since they were admitted once already.
func (q *Queue) requeue(items []pending) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]pending, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	q.items = merged
	queueDepth.Set(float64(len(q.items)))
}
