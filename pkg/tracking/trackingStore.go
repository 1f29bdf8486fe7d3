package tracking

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no entry exists for the message ID.
	ErrNotFound = errors.New("tracking entry not found")
	// ErrConflict is returned when a conditional update loses the race:
	// the stored status no longer matches the expected status.
	ErrConflict = errors.New("tracking status conflict")
)

// Store defines the operations of the delivery ledger. All mutating calls
// are conditional on the currently stored status so that concurrent workers
// are safe without external locking.
type Store interface {
	// Create inserts the entry if no entry exists for its message ID.
	// Duplicate calls for the same message ID are a no-op (first-writer-wins).
	Create(ctx context.Context, entry *Entry) error
	// Get retrieves the entry for the message ID, or ErrNotFound.
	Get(ctx context.Context, messageID string) (*Entry, error)
	// CompareAndSet applies the update only if the stored status equals
	// expected. Returns ErrConflict if another writer got there first and
	// ErrNotFound if no entry exists.
	CompareAndSet(ctx context.Context, messageID string, expected Status, update Update) error
	// Close releases any underlying connections.
	Close(ctx context.Context) error
}
