package queue

import (
	"context"
	"errors"
	"time"

	"github.com/zoff-tech/go-deferred/pkg/message"
)

// ErrDelayTooLong is returned when a single enqueue call asks for a delay
// beyond the primitive's bound. Longer waits go through the Chainer.
var ErrDelayTooLong = errors.New("delay exceeds queue maximum")

// Delivery is one leased envelope handed to a consumer. Until it is acked
// or released the envelope stays invisible to other consumers; the lease is
// advisory only and expires on its own if the consumer crashes.
type Delivery struct {
	Envelope message.Envelope

	ack     func() error
	release func() error
}

// Ack completes the delivery and removes the envelope from the queue.
func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Release returns the envelope to the queue for redelivery without waiting
// for the lease to expire.
func (d *Delivery) Release() error {
	if d.release == nil {
		return nil
	}
	return d.release()
}

// DelayQueue wraps a bounded-delay, at-least-once queue primitive. A single
// Enqueue accepts a delay no larger than MaxDelay; consumption is leased
// and every envelope may be delivered more than once.
type DelayQueue interface {
	// MaxDelay is the largest delay a single Enqueue may carry.
	MaxDelay() time.Duration
	// Enqueue places the envelope on the queue, becoming consumable after
	// the delay elapses. Delays beyond MaxDelay return ErrDelayTooLong.
	Enqueue(ctx context.Context, env message.Envelope, delay time.Duration) error
	// Dequeue returns up to max ready envelopes under a visibility lease.
	// An empty result means nothing is ready right now.
	Dequeue(ctx context.Context, max int) ([]*Delivery, error)
	// Close releases any underlying connections.
	Close() error
}
