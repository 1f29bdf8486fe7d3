package tracking

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/spanner"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zoff-tech/go-deferred/pkg/config"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var NewSpannerStoreFactory = func(client *spanner.Client) Store {
	return &SpannerStore{client: client}
}

// NewStore builds the tracking store backend selected by the configuration.
func NewStore(ctx context.Context, cfg config.DbSettings) (Store, error) {
	switch cfg.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: db}, nil
	case "spanner":
		client, err := spanner.NewClient(ctx, cfg.URI)
		if err != nil {
			return nil, err
		}
		return NewSpannerStoreFactory(client), nil
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, err
		}
		collection := cfg.Collection
		if collection == "" {
			collection = "message_tracking"
		}
		return NewMongoStore(client, cfg.DBName, collection), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported DB type: %s", cfg.Type)
	}
}
