package queue

import (
	"context"
	"sync"
	"time"

	"github.com/zoff-tech/go-deferred/pkg/message"
)

// MemoryQueue is an in-process DelayQueue with delays and visibility
// leases. Intended for tests and local runs; it still enforces the delay
// bound and at-least-once semantics of a real backend.
type MemoryQueue struct {
	mu         sync.Mutex
	items      map[uint64]*memoryItem
	nextID     uint64
	maxDelay   time.Duration
	visibility time.Duration
	now        func() time.Time
}

type memoryItem struct {
	env         message.Envelope
	readyAt     time.Time
	leasedUntil time.Time
}

func NewMemoryQueue(maxDelay, visibilityTimeout time.Duration) *MemoryQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = time.Minute
	}
	return &MemoryQueue{
		items:      make(map[uint64]*memoryItem),
		maxDelay:   maxDelay,
		visibility: visibilityTimeout,
		now:        time.Now,
	}
}

func (q *MemoryQueue) MaxDelay() time.Duration {
	return q.maxDelay
}

func (q *MemoryQueue) Enqueue(ctx context.Context, env message.Envelope, delay time.Duration) error {
	if delay > q.maxDelay {
		return ErrDelayTooLong
	}
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	q.items[q.nextID] = &memoryItem{
		env:     env,
		readyAt: q.now().Add(delay),
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, max int) ([]*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var deliveries []*Delivery
	for id, item := range q.items {
		if len(deliveries) >= max {
			break
		}
		if item.readyAt.After(now) || item.leasedUntil.After(now) {
			continue
		}
		item.leasedUntil = now.Add(q.visibility)

		itemID := id
		deliveries = append(deliveries, &Delivery{
			Envelope: item.env,
			ack: func() error {
				q.mu.Lock()
				defer q.mu.Unlock()
				delete(q.items, itemID)
				return nil
			},
			release: func() error {
				q.mu.Lock()
				defer q.mu.Unlock()
				if it, ok := q.items[itemID]; ok {
					it.leasedUntil = time.Time{}
				}
				return nil
			},
		})
	}
	return deliveries, nil
}

func (q *MemoryQueue) Close() error {
	return nil
}

// Len reports how many envelopes are currently held, leased or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
