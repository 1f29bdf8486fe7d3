package tracking

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same conditional-write
// contract as the shared backends. Intended for tests and local runs only:
// it does not survive restarts and is not reachable from other workers.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Create(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[entry.MessageID]; exists {
		return nil
	}
	clone := *entry
	clone.UpdatedAt = clone.CreatedAt
	m.entries[entry.MessageID] = &clone
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, messageID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

func (m *MemoryStore) CompareAndSet(ctx context.Context, messageID string, expected Status, update Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[messageID]
	if !ok {
		return ErrNotFound
	}
	if entry.Status != expected {
		return ErrConflict
	}

	entry.Status = update.Status
	if update.IncrementAttempts {
		entry.Attempts++
	}
	if update.LastError != "" {
		entry.LastError = update.LastError
	}
	if update.ProviderReference != "" {
		entry.ProviderReference = update.ProviderReference
	}
	if entry.DeliveredAt == nil && update.DeliveredAt != nil {
		t := *update.DeliveredAt
		entry.DeliveredAt = &t
	}
	entry.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}
