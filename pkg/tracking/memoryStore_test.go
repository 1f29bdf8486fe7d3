package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCreateFirstWriterWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := testEntry()
	assert.NoError(t, store.Create(ctx, first))

	dup := testEntry()
	dup.Body = "different body from a duplicate call"
	assert.NoError(t, store.Create(ctx, dup))

	got, err := store.Get(ctx, first.MessageID)
	assert.NoError(t, err)
	assert.Equal(t, "hello", got.Body)
}

func TestMemoryGetNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCompareAndSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	assert.NoError(t, store.Create(ctx, testEntry()))

	err := store.CompareAndSet(ctx, "msg-1", StatusQueued, Update{Status: StatusInFlight})
	assert.NoError(t, err)

	got, err := store.Get(ctx, "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, StatusInFlight, got.Status)

	// Losing CAS: entry is no longer queued.
	err = store.CompareAndSet(ctx, "msg-1", StatusQueued, Update{Status: StatusInFlight})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryCompareAndSetNotFound(t *testing.T) {
	store := NewMemoryStore()
	err := store.CompareAndSet(context.Background(), "missing", StatusQueued, Update{Status: StatusInFlight})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeliveredAtWrittenOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	assert.NoError(t, store.Create(ctx, testEntry()))

	assert.NoError(t, store.CompareAndSet(ctx, "msg-1", StatusQueued, Update{Status: StatusInFlight}))

	deliveredAt := time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC)
	assert.NoError(t, store.CompareAndSet(ctx, "msg-1", StatusInFlight, Update{
		Status:      StatusDelivered,
		DeliveredAt: &deliveredAt,
	}))

	got, err := store.Get(ctx, "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.Equal(t, deliveredAt, *got.DeliveredAt)

	// A replayed envelope can no longer CAS out of the terminal state, so
	// delivered_at never changes.
	err = store.CompareAndSet(ctx, "msg-1", StatusQueued, Update{Status: StatusInFlight})
	assert.ErrorIs(t, err, ErrConflict)
	got, err = store.Get(ctx, "msg-1")
	assert.NoError(t, err)
	assert.Equal(t, deliveredAt, *got.DeliveredAt)
}

func TestMemoryConcurrentCASExactlyOneWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	assert.NoError(t, store.Create(ctx, testEntry()))

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.CompareAndSet(ctx, "msg-1", StatusQueued, Update{Status: StatusInFlight}); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one worker may win the queued -> in_flight transition")
}

func TestValidTransitionDAG(t *testing.T) {
	assert.True(t, ValidTransition(StatusQueued, StatusInFlight))
	assert.True(t, ValidTransition(StatusInFlight, StatusDelivered))
	assert.True(t, ValidTransition(StatusInFlight, StatusFailedRetry))
	assert.True(t, ValidTransition(StatusInFlight, StatusDeadLettered))
	assert.True(t, ValidTransition(StatusFailedRetry, StatusInFlight))

	// Terminal states have no outgoing edges.
	for _, to := range []Status{StatusQueued, StatusInFlight, StatusDelivered, StatusFailedRetry, StatusDeadLettered} {
		assert.False(t, ValidTransition(StatusDelivered, to))
		assert.False(t, ValidTransition(StatusDeadLettered, to))
	}

	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusDeadLettered.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusInFlight.Terminal())
	assert.False(t, StatusFailedRetry.Terminal())
}
