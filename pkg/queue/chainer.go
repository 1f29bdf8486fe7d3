package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-deferred/pkg/message"
)

// Chainer makes arbitrarily long waits achievable on top of a DelayQueue
// whose native delay is bounded. Each hop enqueues with the largest delay
// the primitive accepts until the remaining wait fits in a single hop:
//
//	remaining <= 0          envelope is ready, enqueue with no delay
//	remaining <= MaxDelay   enqueue with the exact remaining delay
//	remaining >  MaxDelay   enqueue with MaxDelay and repeat on dequeue
//
// Convergence takes ceil(remaining/MaxDelay) hops and the envelope is never
// consumable before its target delivery time. Re-chaining is not a retry:
// it never touches the envelope's attempt count.
type Chainer struct {
	queue  DelayQueue
	now    func() time.Time
	logger zerolog.Logger
}

func NewChainer(queue DelayQueue, logger zerolog.Logger) *Chainer {
	return &Chainer{
		queue:  queue,
		now:    time.Now,
		logger: logger.With().Str("component", "delay_chainer").Logger(),
	}
}

// Enqueue places the envelope on the queue with the next chaining hop's
// delay, derived from the envelope's target delivery time.
func (c *Chainer) Enqueue(ctx context.Context, env message.Envelope) error {
	remaining := env.Remaining(c.now())
	delay := NextHop(remaining, c.queue.MaxDelay())

	if remaining > c.queue.MaxDelay() {
		c.logger.Debug().
			Str("message_id", env.MessageID).
			Dur("remaining", remaining).
			Dur("hop_delay", delay).
			Msg("re-chaining envelope, target still beyond queue delay bound")
	}

	return c.queue.Enqueue(ctx, env, delay)
}

// EnqueueAfter places the envelope on the queue after the given delay,
// clamped to the primitive's bound. Used for retry backoff, where a wait
// longer than the bound degrades to the bound rather than chaining: the
// readiness check at dequeue is driven by the target delivery time, which
// a retrying envelope has already passed.
func (c *Chainer) EnqueueAfter(ctx context.Context, env message.Envelope, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	if max := c.queue.MaxDelay(); delay > max {
		delay = max
	}
	return c.queue.Enqueue(ctx, env, delay)
}

// NextHop returns the delay for the next chaining hop given the remaining
// wait and the queue's delay bound.
func NextHop(remaining, maxDelay time.Duration) time.Duration {
	switch {
	case remaining <= 0:
		return 0
	case remaining <= maxDelay:
		return remaining
	default:
		return maxDelay
	}
}

// Hops returns how many enqueue hops a wait of the given length needs
// before the envelope is ready.
func Hops(remaining, maxDelay time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	if maxDelay <= 0 {
		return 1
	}
	hops := int(remaining / maxDelay)
	if remaining%maxDelay != 0 {
		hops++
	}
	return hops
}
