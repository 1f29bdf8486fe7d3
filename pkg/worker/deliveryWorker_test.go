package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/zoff-tech/go-deferred/pkg/gateway"
	"github.com/zoff-tech/go-deferred/pkg/message"
	"github.com/zoff-tech/go-deferred/pkg/queue"
	"github.com/zoff-tech/go-deferred/pkg/tracking"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	respond func(call int) error
}

func (g *fakeGateway) Send(ctx context.Context, recipient, body string) (*gateway.Receipt, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()

	if g.respond != nil {
		if err := g.respond(call); err != nil {
			return nil, err
		}
	}
	return &gateway.Receipt{ProviderReference: "ref-1"}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	headers  []map[string]string
}

func (p *fakePublisher) Publish(ctx context.Context, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	p.headers = append(p.headers, headers)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type fixture struct {
	queue   *queue.MemoryQueue
	store   *tracking.MemoryStore
	gateway *fakeGateway
	dlq     *fakePublisher
	worker  *DeliveryWorker
}

func newFixture(t *testing.T, cfg Config, gw *fakeGateway) *fixture {
	t.Helper()

	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}

	q := queue.NewMemoryQueue(15*time.Minute, time.Minute)
	store := tracking.NewMemoryStore()
	dlq := &fakePublisher{}

	w, err := NewDeliveryWorker(q, store, gw, dlq, cfg, zerolog.Nop())
	assert.NoError(t, err)

	return &fixture{queue: q, store: store, gateway: gw, dlq: dlq, worker: w}
}

func (f *fixture) schedule(t *testing.T, id string, target time.Time) message.Envelope {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	entry := &tracking.Entry{
		MessageID:          id,
		Recipient:          "+14155550100",
		Body:               "hello",
		Status:             tracking.StatusQueued,
		TargetDeliveryTime: target,
		CreatedAt:          now,
	}
	assert.NoError(t, f.store.Create(ctx, entry))

	env := message.Envelope{
		MessageID:          id,
		Recipient:          entry.Recipient,
		Body:               entry.Body,
		TargetDeliveryTime: target,
	}
	assert.NoError(t, f.queue.Enqueue(ctx, env, 0))
	return env
}

func (f *fixture) processOne(t *testing.T) {
	t.Helper()
	deliveries, err := f.queue.Dequeue(context.Background(), 1)
	assert.NoError(t, err)
	assert.Len(t, deliveries, 1)
	f.worker.Process(context.Background(), deliveries[0])
}

func TestProcessDeliversReadyEnvelope(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, Config{}, gw)
	f.schedule(t, "msg-1", time.Now().Add(-time.Second))

	f.processOne(t)

	assert.Equal(t, 1, gw.callCount())
	entry, err := f.store.Get(context.Background(), "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.StatusDelivered, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, "ref-1", entry.ProviderReference)
	assert.NotNil(t, entry.DeliveredAt)
	assert.Equal(t, 0, f.queue.Len(), "delivered envelope must be acked")
}

func TestProcessDropsDuplicateAfterDelivery(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, Config{}, gw)
	env := f.schedule(t, "msg-1", time.Now().Add(-time.Second))

	f.processOne(t)
	assert.Equal(t, 1, gw.callCount())

	entry, err := f.store.Get(context.Background(), "msg-1")
	assert.NoError(t, err)
	deliveredAt := *entry.DeliveredAt

	// Replay the same envelope several times: no second gateway call, and
	// delivered_at never changes.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.NoError(t, f.queue.Enqueue(ctx, env, 0))
		f.processOne(t)
	}

	assert.Equal(t, 1, gw.callCount())
	entry, err = f.store.Get(ctx, "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.StatusDelivered, entry.Status)
	assert.Equal(t, deliveredAt, *entry.DeliveredAt)
	assert.Equal(t, 0, f.queue.Len())
}

func TestProcessRechainsEarlyEnvelope(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, Config{}, gw)
	f.schedule(t, "msg-1", time.Now().Add(10*time.Minute))

	f.processOne(t)

	// Never handed to the gateway before its time; a re-chained copy is
	// back on the queue and the original is gone.
	assert.Equal(t, 0, gw.callCount())
	assert.Equal(t, 1, f.queue.Len())

	entry, err := f.store.Get(context.Background(), "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.StatusQueued, entry.Status)
	assert.Equal(t, 0, entry.Attempts, "re-chaining must not increment attempts")
}

func TestProcessConcurrentDuplicatesSendOnce(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, Config{}, gw)
	env := f.schedule(t, "msg-1", time.Now().Add(-time.Second))
	assert.NoError(t, f.queue.Enqueue(context.Background(), env, 0))

	deliveries, err := f.queue.Dequeue(context.Background(), 2)
	assert.NoError(t, err)
	assert.Len(t, deliveries, 2)

	// Two workers race on duplicate envelopes at readiness: exactly one
	// wins the queued -> in_flight transition.
	var wg sync.WaitGroup
	for _, d := range deliveries {
		wg.Add(1)
		go func(d *queue.Delivery) {
			defer wg.Done()
			f.worker.Process(context.Background(), d)
		}(d)
	}
	wg.Wait()

	assert.Equal(t, 1, gw.callCount())
	entry, err := f.store.Get(context.Background(), "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.StatusDelivered, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
}

func TestProcessDropsDuplicateWhileInFlight(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, Config{}, gw)
	f.schedule(t, "msg-1", time.Now().Add(-time.Second))

	// Another worker currently holds the in-flight claim.
	ctx := context.Background()
	assert.NoError(t, f.store.CompareAndSet(ctx, "msg-1", tracking.StatusQueued, tracking.Update{Status: tracking.StatusInFlight}))

	f.processOne(t)

	assert.Equal(t, 0, gw.callCount())
	assert.Equal(t, 0, f.queue.Len(), "duplicate envelope must be acked, not redelivered")
}

func TestProcessRetriesTransientFailure(t *testing.T) {
	gw := &fakeGateway{respond: func(call int) error {
		if call == 1 {
			return gateway.WrapTransient(nil)
		}
		return nil
	}}
	f := newFixture(t, Config{RetryBackoff: 0}, gw)
	f.schedule(t, "msg-1", time.Now().Add(-time.Second))

	f.processOne(t)

	ctx := context.Background()
	entry, err := f.store.Get(ctx, "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.StatusFailedRetry, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.NotEmpty(t, entry.LastError)
	assert.Equal(t, 1, f.queue.Len(), "a retry copy must be back on the queue")

	deliveries, err := f.queue.Dequeue(ctx, 1)
	assert.NoError(t, err)
	assert.Len(t, deliveries, 1)
	assert.Equal(t, 1, deliveries[0].Envelope.AttemptCount)
	f.worker.Process(ctx, deliveries[0])

	entry, err = f.store.Get(ctx, "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.StatusDelivered, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, 2, gw.callCount())
}

func TestProcessExhaustsRetryBudget(t *testing.T) {
	gw := &fakeGateway{respond: func(call int) error {
		return gateway.WrapTransient(nil)
	}}
	f := newFixture(t, Config{MaxAttempts: 3, RetryBackoff: 0}, gw)
	f.schedule(t, "msg-1", time.Now().Add(-time.Second))

	// A message whose every attempt fails transiently reaches
	// dead_lettered after exactly max_attempts attempts.
	for i := 0; i < 3; i++ {
		f.processOne(t)
	}

	assert.Equal(t, 3, gw.callCount())
	entry, err := f.store.Get(context.Background(), "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.StatusDeadLettered, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
	assert.Equal(t, 1, f.dlq.count())
	assert.Equal(t, 0, f.queue.Len(), "no retry copy after dead-lettering")
}

func TestProcessPermanentFailureDeadLettersImmediately(t *testing.T) {
	gw := &fakeGateway{respond: func(call int) error {
		return gateway.WrapPermanent(nil)
	}}
	f := newFixture(t, Config{MaxAttempts: 3}, gw)
	f.schedule(t, "msg-1", time.Now().Add(-time.Second))

	f.processOne(t)

	assert.Equal(t, 1, gw.callCount())
	entry, err := f.store.Get(context.Background(), "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, tracking.StatusDeadLettered, entry.Status)
	assert.Equal(t, 1, entry.Attempts, "permanent failures are not retried")
	assert.Equal(t, 1, f.dlq.count())
	assert.Equal(t, 0, f.queue.Len())
}

func TestProcessOrphanEnvelopeForwardedToDeadLetter(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, Config{}, gw)

	env := message.Envelope{
		MessageID:          "orphan",
		Recipient:          "+14155550100",
		Body:               "hello",
		TargetDeliveryTime: time.Now().Add(-time.Second),
	}
	assert.NoError(t, f.queue.Enqueue(context.Background(), env, 0))

	f.processOne(t)

	assert.Equal(t, 0, gw.callCount())
	assert.Equal(t, 1, f.dlq.count())
	assert.Equal(t, "orphan", f.dlq.headers[0]["message_id"])
	assert.Equal(t, 0, f.queue.Len())
}

func TestComputeBackoffCappedByQueueBound(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, Config{RetryBackoff: 10 * time.Minute}, gw)

	// 10m, 20m, 40m raw; everything past the first is clamped to the
	// 15 minute queue bound before jitter.
	for attempt := 1; attempt <= 5; attempt++ {
		b := f.worker.computeBackoff(attempt)
		assert.GreaterOrEqual(t, b, time.Duration(0))
		assert.LessOrEqual(t, b, 15*time.Minute)
	}
}

func TestNewDeliveryWorkerValidation(t *testing.T) {
	q := queue.NewMemoryQueue(15*time.Minute, time.Minute)
	store := tracking.NewMemoryStore()
	gw := &fakeGateway{}
	dlq := &fakePublisher{}
	cfg := Config{BatchSize: 1, MaxAttempts: 1, Concurrency: 1}

	_, err := NewDeliveryWorker(nil, store, gw, dlq, cfg, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewDeliveryWorker(q, nil, gw, dlq, cfg, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewDeliveryWorker(q, store, nil, dlq, cfg, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewDeliveryWorker(q, store, gw, nil, cfg, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewDeliveryWorker(q, store, gw, dlq, Config{BatchSize: 1, Concurrency: 1}, zerolog.Nop())
	assert.Error(t, err, "zero max attempts must be rejected")

	w, err := NewDeliveryWorker(q, store, gw, dlq, cfg, zerolog.Nop())
	assert.NoError(t, err)
	assert.NotNil(t, w)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, Config{PollInterval: 10 * time.Millisecond}, gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
