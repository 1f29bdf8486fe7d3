package tracking

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
)

// MongoStore persists tracking entries in a collection with a unique index
// on message_id. The conditional update is a filtered UpdateOne: matching
// zero documents means either a lost race or a missing entry.
type MongoStore struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client:     client,
		database:   database,
		collection: collection,
	}
}

func (m *MongoStore) Create(ctx context.Context, entry *Entry) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Create")
	defer span.End()

	startTime := time.Now()

	collection := m.client.Database(m.database).Collection(m.collection)
	_, err := collection.InsertOne(ctx, entry)
	if mongo.IsDuplicateKeyError(err) {
		// First-writer-wins: a duplicate create is a no-op.
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "mongodb", "Create", entry.MessageID, time.Since(startTime))

	return nil
}

func (m *MongoStore) Get(ctx context.Context, messageID string) (*Entry, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()

	startTime := time.Now()

	collection := m.client.Database(m.database).Collection(m.collection)
	var entry Entry
	err := collection.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "mongodb", "Get", messageID, time.Since(startTime))

	return &entry, nil
}

func (m *MongoStore) CompareAndSet(ctx context.Context, messageID string, expected Status, update Update) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "CompareAndSet")
	defer span.End()

	startTime := time.Now()

	set := bson.M{
		"status":     update.Status,
		"updated_at": time.Now(),
	}
	if update.LastError != "" {
		set["last_error"] = update.LastError
	}
	if update.ProviderReference != "" {
		set["provider_reference"] = update.ProviderReference
	}
	if update.DeliveredAt != nil {
		set["delivered_at"] = *update.DeliveredAt
	}

	mongoUpdate := bson.M{"$set": set}
	if update.IncrementAttempts {
		mongoUpdate["$inc"] = bson.M{"attempts": 1}
	}

	collection := m.client.Database(m.database).Collection(m.collection)
	res, err := collection.UpdateOne(ctx, bson.M{"message_id": messageID, "status": expected}, mongoUpdate)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := m.Get(ctx, messageID); err != nil {
			return err
		}
		return ErrConflict
	}

	addDBStatsToSpan(span, "mongodb", "CompareAndSet", messageID, time.Since(startTime))

	return nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
