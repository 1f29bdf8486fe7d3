package tracking

import (
	"context"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
)

// SpannerStore persists tracking entries in a MessageTracking table. The
// conditional update runs a read-then-update inside a read-write
// transaction, which Spanner serializes for us.
type SpannerStore struct {
	client *spanner.Client
}

func NewSpannerStore(client *spanner.Client) *SpannerStore {
	return &SpannerStore{client: client}
}

func (s *SpannerStore) Create(ctx context.Context, entry *Entry) error {
	m := spanner.Insert("MessageTracking",
		[]string{"MessageId", "Recipient", "Body", "TimingPreference", "CallerReference", "Status", "Attempts", "LastError", "ProviderReference", "TargetDeliveryTime", "CreatedAt", "UpdatedAt"},
		[]interface{}{entry.MessageID, entry.Recipient, entry.Body, entry.TimingPreference, entry.CallerReference,
			string(entry.Status), int64(entry.Attempts), entry.LastError, entry.ProviderReference,
			entry.TargetDeliveryTime, entry.CreatedAt, entry.CreatedAt})

	_, err := s.client.Apply(ctx, []*spanner.Mutation{m})
	if spanner.ErrCode(err) == codes.AlreadyExists {
		// First-writer-wins: a duplicate create is a no-op.
		return nil
	}
	return err
}

func (s *SpannerStore) Get(ctx context.Context, messageID string) (*Entry, error) {
	stmt := spanner.Statement{
		SQL: `SELECT MessageId, Recipient, Body, TimingPreference, CallerReference, Status, Attempts, LastError, ProviderReference, TargetDeliveryTime, CreatedAt, UpdatedAt, DeliveredAt
              FROM MessageTracking WHERE MessageId = @messageId`,
		Params: map[string]interface{}{"messageId": messageID},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return scanSpannerEntry(row)
}

func (s *SpannerStore) CompareAndSet(ctx context.Context, messageID string, expected Status, update Update) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		row, err := txn.ReadRow(ctx, "MessageTracking", spanner.Key{messageID},
			[]string{"Status", "Attempts", "LastError", "ProviderReference", "DeliveredAt"})
		if err != nil {
			if spanner.ErrCode(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}

		var current string
		var attempts int64
		var lastError, providerRef spanner.NullString
		var deliveredAt spanner.NullTime
		if err := row.Columns(&current, &attempts, &lastError, &providerRef, &deliveredAt); err != nil {
			return err
		}
		if Status(current) != expected {
			return ErrConflict
		}

		if update.IncrementAttempts {
			attempts++
		}
		newLastError := lastError.StringVal
		if update.LastError != "" {
			newLastError = update.LastError
		}
		newProviderRef := providerRef.StringVal
		if update.ProviderReference != "" {
			newProviderRef = update.ProviderReference
		}
		newDeliveredAt := deliveredAt
		if !deliveredAt.Valid && update.DeliveredAt != nil {
			newDeliveredAt = spanner.NullTime{Time: *update.DeliveredAt, Valid: true}
		}

		m := spanner.Update("MessageTracking",
			[]string{"MessageId", "Status", "Attempts", "LastError", "ProviderReference", "DeliveredAt", "UpdatedAt"},
			[]interface{}{messageID, string(update.Status), attempts, newLastError, newProviderRef, newDeliveredAt, time.Now()})
		return txn.BufferWrite([]*spanner.Mutation{m})
	})
	return err
}

func (s *SpannerStore) Close(ctx context.Context) error {
	s.client.Close()
	return nil
}

func scanSpannerEntry(row *spanner.Row) (*Entry, error) {
	var entry Entry
	var status string
	var attempts int64
	var lastError, providerRef spanner.NullString
	var deliveredAt spanner.NullTime
	if err := row.Columns(&entry.MessageID, &entry.Recipient, &entry.Body, &entry.TimingPreference,
		&entry.CallerReference, &status, &attempts, &lastError, &providerRef,
		&entry.TargetDeliveryTime, &entry.CreatedAt, &entry.UpdatedAt, &deliveredAt); err != nil {
		return nil, err
	}
	entry.Status = Status(status)
	entry.Attempts = int(attempts)
	entry.LastError = lastError.StringVal
	entry.ProviderReference = providerRef.StringVal
	if deliveredAt.Valid {
		t := deliveredAt.Time
		entry.DeliveredAt = &t
	}
	return &entry, nil
}
