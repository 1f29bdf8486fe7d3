package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/zoff-tech/go-deferred/pkg/deadletter"
	"github.com/zoff-tech/go-deferred/pkg/gateway"
	"github.com/zoff-tech/go-deferred/pkg/message"
	"github.com/zoff-tech/go-deferred/pkg/queue"
	"github.com/zoff-tech/go-deferred/pkg/tracking"
)

// inFlightExpiration bounds how long an in_flight claim is honored. A worker
// that crashed after claiming an envelope holds the claim until this window
// passes, after which a redelivered envelope may reclaim the attempt.
const inFlightExpiration = 5 * time.Minute

// Config contains the runtime settings the delivery worker relies on to
// orchestrate sends, retries, and dead-letter handling.
type Config struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration // initial backoff duration
	Concurrency    int
	GatewayTimeout time.Duration
}

// DeliveryWorker consumes envelopes from the delay queue and resolves each
// one to exactly one of: re-chained, delivered, retried, dead-lettered, or
// dropped as a duplicate. Workers share no in-process state; every decision
// is gated by a conditional read/write against the tracking store, so any
// number of them can run against the same queue.
type DeliveryWorker struct {
	queue   queue.DelayQueue
	chainer *queue.Chainer
	store   tracking.Store
	gateway gateway.Gateway
	dead    deadletter.Publisher
	tracer  trace.Tracer
	logger  zerolog.Logger
	sem     *semaphore.Weighted
	cfg     Config
	now     func() time.Time

	randMu sync.Mutex
	rnd    *rand.Rand
}

func NewDeliveryWorker(
	q queue.DelayQueue,
	store tracking.Store,
	gw gateway.Gateway,
	dead deadletter.Publisher,
	cfg Config,
	logger zerolog.Logger,
) (*DeliveryWorker, error) {
	if q == nil {
		return nil, errors.New("worker: delay queue is required")
	}
	if store == nil {
		return nil, errors.New("worker: tracking store is required")
	}
	if gw == nil {
		return nil, errors.New("worker: gateway is required")
	}
	if dead == nil {
		return nil, errors.New("worker: dead-letter publisher is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("worker: max attempts must be >= 1")
	}
	if cfg.BatchSize < 1 {
		return nil, errors.New("worker: batch size must be >= 1")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("worker: concurrency must be >= 1")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}

	return &DeliveryWorker{
		queue:   q,
		chainer: queue.NewChainer(q, logger),
		store:   store,
		gateway: gw,
		dead:    dead,
		tracer:  otel.Tracer("go-deferred"),
		logger:  logger.With().Str("component", "delivery_worker").Logger(),
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		cfg:     cfg,
		now:     time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run consumes the queue until the context is canceled.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := w.queue.Dequeue(ctx, w.cfg.BatchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to dequeue batch")
		}

		for _, d := range deliveries {
			if err := w.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			go func(d *queue.Delivery) {
				defer w.sem.Release(1)
				w.Process(ctx, d)
			}(d)
		}

		if len(deliveries) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.PollInterval):
			}
		}
	}
}

// Process resolves a single dequeued envelope. Exported so batch drivers
// and tests can feed deliveries directly.
func (w *DeliveryWorker) Process(ctx context.Context, d *queue.Delivery) {
	env := d.Envelope
	ctx, span := w.tracer.Start(ctx, "ProcessEnvelope", trace.WithAttributes(
		attribute.String("message.id", env.MessageID),
		attribute.Int("message.attempt_count", env.AttemptCount),
		attribute.String("message.target_delivery_time", env.TargetDeliveryTime.String()),
	))
	defer span.End()

	logger := w.logger.With().Str("message_id", env.MessageID).Logger()

	entry, err := w.store.Get(ctx, env.MessageID)
	if errors.Is(err, tracking.ErrNotFound) {
		// An envelope with no ledger entry cannot be safely sent; forward
		// it for operational inspection instead of looping forever.
		logger.Error().Msg("envelope has no tracking entry, forwarding to dead-letter")
		w.publishDeadLetter(ctx, env, "missing tracking entry")
		w.ack(d, logger)
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to read tracking entry, releasing envelope")
		span.RecordError(err)
		w.release(d, logger)
		return
	}

	// Idempotency guard: duplicates of an already-resolved message are
	// acknowledged without a second send.
	if entry.Status.Terminal() {
		logger.Debug().Str("status", string(entry.Status)).Msg("dropping duplicate envelope for resolved message")
		w.ack(d, logger)
		return
	}

	// Not yet time: re-chain and let the re-chained copy become the
	// instance of record.
	if remaining := env.Remaining(w.now()); remaining > 0 {
		if err := w.chainer.Enqueue(ctx, env); err != nil {
			logger.Error().Err(err).Msg("failed to re-chain envelope, releasing for redelivery")
			span.RecordError(err)
			w.release(d, logger)
			return
		}
		w.ack(d, logger)
		return
	}

	expected := entry.Status
	if expected == tracking.StatusInFlight {
		if w.now().Sub(entry.UpdatedAt) < inFlightExpiration {
			// Another worker is sending right now; this duplicate is
			// redundant.
			logger.Debug().Msg("message already in flight, dropping duplicate envelope")
			w.ack(d, logger)
			return
		}
		// The claim is stale: the claiming worker died mid-send. Reclaim
		// the attempt; at-least-once delivery allows the rare double send
		// this risks, and the terminal-state guard still bounds it.
		logger.Warn().Time("claimed_at", entry.UpdatedAt).Msg("reclaiming expired in-flight claim")
	}

	if err := w.store.CompareAndSet(ctx, env.MessageID, expected, tracking.Update{Status: tracking.StatusInFlight}); err != nil {
		if errors.Is(err, tracking.ErrConflict) {
			// Another worker won the transition; abort without side effects.
			logger.Debug().Msg("lost in-flight race to another worker")
			w.ack(d, logger)
			return
		}
		logger.Error().Err(err).Msg("failed to claim message, releasing envelope")
		span.RecordError(err)
		w.release(d, logger)
		return
	}

	w.send(ctx, span, d, entry, logger)
}

func (w *DeliveryWorker) send(ctx context.Context, span trace.Span, d *queue.Delivery, entry *tracking.Entry, logger zerolog.Logger) {
	env := d.Envelope
	attempts := entry.Attempts + 1

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.GatewayTimeout)
	receipt, err := w.gateway.Send(sendCtx, env.Recipient, env.Body)
	cancel()

	if err == nil {
		deliveredAt := w.now()
		update := tracking.Update{
			Status:            tracking.StatusDelivered,
			IncrementAttempts: true,
			ProviderReference: receipt.ProviderReference,
			DeliveredAt:       &deliveredAt,
		}
		// The send already happened; a failed status write must not undo
		// it. Best effort, logged, the envelope is still completed.
		if err := w.store.CompareAndSet(ctx, env.MessageID, tracking.StatusInFlight, update); err != nil {
			logger.Error().Err(err).Msg("message sent but status update failed")
			span.RecordError(err)
		}
		logger.Info().
			Int("attempts", attempts).
			Str("provider_reference", receipt.ProviderReference).
			Msg("message delivered")
		w.ack(d, logger)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, gateway.ErrPermanent) {
		logger.Warn().Err(err).Int("attempts", attempts).Msg("permanent gateway failure, dead-lettering")
		w.deadLetter(ctx, env, err.Error(), logger)
		w.ack(d, logger)
		return
	}

	// Transient (or unclassified) failure.
	if attempts >= w.cfg.MaxAttempts {
		logger.Warn().Err(err).Int("attempts", attempts).Msg("retry budget exhausted, dead-lettering")
		w.deadLetter(ctx, env, err.Error(), logger)
		w.ack(d, logger)
		return
	}

	update := tracking.Update{
		Status:            tracking.StatusFailedRetry,
		IncrementAttempts: true,
		LastError:         err.Error(),
	}
	if err := w.store.CompareAndSet(ctx, env.MessageID, tracking.StatusInFlight, update); err != nil {
		logger.Error().Err(err).Msg("failed to record retry status, releasing envelope")
		w.release(d, logger)
		return
	}

	retryEnv := env
	retryEnv.AttemptCount = attempts
	backoff := w.computeBackoff(attempts)
	logger.Info().Err(err).Int("attempts", attempts).Dur("backoff", backoff).Msg("transient gateway failure, scheduling retry")
	if err := w.chainer.EnqueueAfter(ctx, retryEnv, backoff); err != nil {
		// The retry copy never made it onto the queue; let lease expiry
		// redeliver this one instead.
		logger.Error().Err(err).Msg("failed to enqueue retry, releasing envelope")
		w.release(d, logger)
		return
	}
	w.ack(d, logger)
}

// deadLetter marks the entry terminally failed and forwards the envelope to
// the dead-letter channel.
func (w *DeliveryWorker) deadLetter(ctx context.Context, env message.Envelope, cause string, logger zerolog.Logger) {
	update := tracking.Update{
		Status:            tracking.StatusDeadLettered,
		IncrementAttempts: true,
		LastError:         cause,
	}
	if err := w.store.CompareAndSet(ctx, env.MessageID, tracking.StatusInFlight, update); err != nil {
		logger.Error().Err(err).Msg("failed to record dead-letter status")
	}
	w.publishDeadLetter(ctx, env, cause)
}

func (w *DeliveryWorker) publishDeadLetter(ctx context.Context, env message.Envelope, cause string) {
	payload, err := env.Marshal()
	if err != nil {
		w.logger.Error().Err(err).Str("message_id", env.MessageID).Msg("failed to marshal dead-letter payload")
		return
	}
	headers := map[string]string{
		"message_id": env.MessageID,
		"reason":     cause,
	}
	if err := w.dead.Publish(ctx, payload, headers); err != nil {
		w.logger.Error().Err(err).Str("message_id", env.MessageID).Msg("failed to publish dead-letter envelope")
	}
}

func (w *DeliveryWorker) computeBackoff(attempt int) time.Duration {
	if w.cfg.RetryBackoff <= 0 {
		return 0
	}

	multiplier := math.Pow(2, float64(attempt-1))
	raw := time.Duration(float64(w.cfg.RetryBackoff) * multiplier)
	if max := w.queue.MaxDelay(); max > 0 && raw > max {
		raw = max
	}

	return w.fullJitter(raw)
}

func (w *DeliveryWorker) fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	w.randMu.Lock()
	defer w.randMu.Unlock()

	n := w.rnd.Int63n(int64(max) + 1)
	return time.Duration(n)
}

func (w *DeliveryWorker) ack(d *queue.Delivery, logger zerolog.Logger) {
	if err := d.Ack(); err != nil {
		logger.Error().Err(err).Msg("failed to ack envelope")
	}
}

func (w *DeliveryWorker) release(d *queue.Delivery, logger zerolog.Logger) {
	if err := d.Release(); err != nil {
		logger.Error().Err(err).Msg("failed to release envelope")
	}
}
