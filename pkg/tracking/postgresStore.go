package tracking

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"
)

// PostgresStore persists tracking entries in a message_tracking table.
//
// Expected schema:
//
//	CREATE TABLE message_tracking (
//	    message_id           TEXT PRIMARY KEY,
//	    recipient            TEXT NOT NULL,
//	    body                 TEXT NOT NULL,
//	    timing_preference    TEXT NOT NULL DEFAULT '',
//	    caller_reference     TEXT NOT NULL DEFAULT '',
//	    status               TEXT NOT NULL,
//	    attempts             INT NOT NULL DEFAULT 0,
//	    last_error           TEXT NOT NULL DEFAULT '',
//	    provider_reference   TEXT NOT NULL DEFAULT '',
//	    target_delivery_time TIMESTAMPTZ NOT NULL,
//	    created_at           TIMESTAMPTZ NOT NULL,
//	    updated_at           TIMESTAMPTZ NOT NULL,
//	    delivered_at         TIMESTAMPTZ
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, entry *Entry) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Create")
	defer span.End()

	startTime := time.Now()

	// ON CONFLICT DO NOTHING makes duplicate creates first-writer-wins.
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO message_tracking
         (message_id, recipient, body, timing_preference, caller_reference, status, attempts, last_error, provider_reference, target_delivery_time, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
         ON CONFLICT (message_id) DO NOTHING`,
		entry.MessageID, entry.Recipient, entry.Body, entry.TimingPreference, entry.CallerReference,
		entry.Status, entry.Attempts, entry.LastError, entry.ProviderReference,
		entry.TargetDeliveryTime, entry.CreatedAt, entry.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "postgresql", "Create", entry.MessageID, time.Since(startTime))

	return nil
}

func (p *PostgresStore) Get(ctx context.Context, messageID string) (*Entry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()

	startTime := time.Now()

	row := p.db.QueryRowContext(ctx,
		`SELECT message_id, recipient, body, timing_preference, caller_reference, status, attempts, last_error, provider_reference, target_delivery_time, created_at, updated_at, delivered_at
         FROM message_tracking WHERE message_id=$1`, messageID)

	var entry Entry
	var deliveredAt sql.NullTime
	err := row.Scan(&entry.MessageID, &entry.Recipient, &entry.Body, &entry.TimingPreference,
		&entry.CallerReference, &entry.Status, &entry.Attempts, &entry.LastError,
		&entry.ProviderReference, &entry.TargetDeliveryTime, &entry.CreatedAt, &entry.UpdatedAt, &deliveredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if deliveredAt.Valid {
		entry.DeliveredAt = &deliveredAt.Time
	}

	addDBStatsToSpan(span, "postgresql", "Get", messageID, time.Since(startTime))

	return &entry, nil
}

func (p *PostgresStore) CompareAndSet(ctx context.Context, messageID string, expected Status, update Update) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "CompareAndSet")
	defer span.End()

	startTime := time.Now()

	increment := 0
	if update.IncrementAttempts {
		increment = 1
	}

	// COALESCE keeps previously written values when the update leaves a
	// field empty; delivered_at in particular is written at most once.
	res, err := p.db.ExecContext(ctx,
		`UPDATE message_tracking
         SET status=$1,
             attempts=attempts+$2,
             last_error=COALESCE(NULLIF($3, ''), last_error),
             provider_reference=COALESCE(NULLIF($4, ''), provider_reference),
             delivered_at=COALESCE(delivered_at, $5),
             updated_at=$6
         WHERE message_id=$7 AND status=$8`,
		update.Status, increment, update.LastError, update.ProviderReference,
		nullableTime(update.DeliveredAt), time.Now(), messageID, expected)
	if err != nil {
		span.RecordError(err)
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if affected == 0 {
		if _, err := p.Get(ctx, messageID); err != nil {
			return err
		}
		return ErrConflict
	}

	addDBStatsToSpan(span, "postgresql", "CompareAndSet", messageID, time.Since(startTime))

	return nil
}

func (p *PostgresStore) Close(ctx context.Context) error {
	return p.db.Close()
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
