package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/zoff-tech/go-deferred/pkg/queue"
	"github.com/zoff-tech/go-deferred/pkg/schedule"
	"github.com/zoff-tech/go-deferred/pkg/tracking"
)

func newTestService(t *testing.T) (*Service, *queue.MemoryQueue, *tracking.MemoryStore) {
	t.Helper()
	q := queue.NewMemoryQueue(15*time.Minute, time.Minute)
	store := tracking.NewMemoryStore()
	svc := NewService(schedule.NewResolver(9, zerolog.Nop()), store, q, time.UTC, zerolog.Nop())
	return svc, q, store
}

func TestScheduleImmediate(t *testing.T) {
	svc, q, store := newTestService(t)
	ctx := context.Background()

	id, err := svc.Schedule(ctx, Request{
		Recipient:        "+14155550100",
		Body:             "hello",
		TimingPreference: "as soon as possible",
		CallerReference:  "case-42",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	entry, err := store.Get(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, tracking.StatusQueued, entry.Status)
	assert.Equal(t, "+14155550100", entry.Recipient)
	assert.Equal(t, "case-42", entry.CallerReference)
	assert.Equal(t, 0, entry.Attempts)

	// An immediate envelope is already consumable.
	deliveries, err := q.Dequeue(ctx, 1)
	assert.NoError(t, err)
	assert.Len(t, deliveries, 1)
	assert.Equal(t, id, deliveries[0].Envelope.MessageID)
}

func TestScheduleDeferred(t *testing.T) {
	svc, q, store := newTestService(t)
	ctx := context.Background()

	before := time.Now()
	id, err := svc.Schedule(ctx, Request{
		Recipient:        "+14155550100",
		Body:             "hello",
		TimingPreference: "2 hours",
	})
	assert.NoError(t, err)

	entry, err := store.Get(ctx, id)
	assert.NoError(t, err)
	assert.False(t, entry.TargetDeliveryTime.Before(before.Add(2*time.Hour)))

	// First chaining hop is on the queue but not yet consumable.
	deliveries, err := q.Dequeue(ctx, 1)
	assert.NoError(t, err)
	assert.Empty(t, deliveries)
	assert.Equal(t, 1, q.Len())
}

func TestScheduleUnrecognizedPreferenceNeverFails(t *testing.T) {
	svc, q, store := newTestService(t)
	ctx := context.Background()

	id, err := svc.Schedule(ctx, Request{
		Recipient:        "+14155550100",
		Body:             "hello",
		TimingPreference: "when the stars align",
	})
	assert.NoError(t, err)

	entry, err := store.Get(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, "when the stars align", entry.TimingPreference)

	deliveries, err := q.Dequeue(ctx, 1)
	assert.NoError(t, err)
	assert.Len(t, deliveries, 1, "unrecognized preference degrades to immediate send")
}

func TestScheduleRejectsInvalidRequests(t *testing.T) {
	svc, q, _ := newTestService(t)
	ctx := context.Background()

	tests := []Request{
		{Recipient: "", Body: "hello"},
		{Recipient: "not-a-number", Body: "hello"},
		{Recipient: "+14155550100", Body: ""},
	}
	for _, req := range tests {
		_, err := svc.Schedule(ctx, req)
		assert.Error(t, err, "request %+v must be rejected", req)
	}
	assert.Equal(t, 0, q.Len(), "rejected requests are never queued")
}

func TestScheduleAssignsUniqueIDs(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := svc.Schedule(ctx, Request{Recipient: "+14155550100", Body: "hello"})
		assert.NoError(t, err)
		assert.False(t, seen[id], "message IDs must be unique")
		seen[id] = true
	}
}

func TestStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Schedule(ctx, Request{Recipient: "+14155550100", Body: "hello"})
	assert.NoError(t, err)

	entry, err := svc.Status(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, id, entry.MessageID)

	_, err = svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}
