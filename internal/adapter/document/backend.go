// Package document is the MongoDB backend of the database adapter. Query
// documents are already native here, so the backend mostly normalizes
// identifiers and maps the update directives onto one server-side update.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
)

// Backend drives one MongoDB database.
type Backend struct {
	uri      string
	database string
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	client *mongo.Client
	db     *mongo.Database
}

// New creates a Backend for the database named in uri, or database when
// set.
func New(uri, database string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		uri:      uri,
		database: database,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name implements adapter.Backend.
func (b *Backend) Name() string { return "mongodb" }

// Connect creates the client and checks the primary answers.
func (b *Backend) Connect(ctx context.Context) error {
	opts := options.Client().ApplyURI(b.uri)
	client, err := mongo.Connect(opts)
	if err != nil {
		return fmt.Errorf("mongodb connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return fmt.Errorf("mongodb ping: %w", err)
	}

	name := b.database
	if name == "" {
		cs, err := databaseFromURI(b.uri)
		if err != nil {
			client.Disconnect(ctx)
			return err
		}
		name = cs
	}

	b.mu.Lock()
	b.client = client
	b.db = client.Database(name)
	b.mu.Unlock()
	return nil
}

// Ping implements adapter.Backend.
func (b *Backend) Ping(ctx context.Context) error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client == nil {
		return dberr.FailedPrecondition("mongodb backend is not connected")
	}
	return client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Disconnect(ctx)
	b.client = nil
	b.db = nil
	return err
}

// Store returns the _declaredschemas collection store.
func (b *Backend) Store() adapter.SchemaStore {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil
	}
	return &Store{coll: b.db.Collection(DeclarationsCollection), now: b.now}
}

func (b *Backend) currentDB() (*mongo.Database, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, dberr.FailedPrecondition("mongodb backend is not connected")
	}
	return b.db, nil
}

// Compile ensures a unique index exists for every unique, non-array field
// and returns a model bound to the collection. The collection itself is
// created by the first write.
func (b *Backend) Compile(ctx context.Context, schema model.Schema, lookup adapter.Lookup) (adapter.Model, error) {
	db, err := b.currentDB()
	if err != nil {
		return nil, err
	}
	coll := db.Collection(schema.Collection())

	var indexes []mongo.IndexModel
	for _, f := range schema.Fields {
		if !f.Unique || f.Array {
			continue
		}
		indexes = append(indexes, mongo.IndexModel{
			Keys: bson.D{{Key: f.Name, Value: 1}},
			Options: options.Index().
				SetName("uq_" + f.Name).
				SetUnique(true).
				SetSparse(true),
		})
	}
	if len(indexes) > 0 {
		if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
			return nil, fmt.Errorf("create indexes on %s: %w", schema.Collection(), err)
		}
		b.logger.Debug("indexes ensured", "collection", schema.Collection(), "count", len(indexes))
	}

	return newModel(coll, schema, lookup, b.now), nil
}

// Drop drops the schema's collection.
func (b *Backend) Drop(ctx context.Context, schema model.Schema) error {
	db, err := b.currentDB()
	if err != nil {
		return err
	}
	return db.Collection(schema.Collection()).Drop(ctx)
}

// databaseFromURI returns the default database of a connection string.
func databaseFromURI(uri string) (string, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return "", fmt.Errorf("invalid mongodb uri: %w", err)
	}
	if cs.Database == "" {
		return "", errors.New("mongodb uri names no database and database.database is not set")
	}
	return cs.Database, nil
}
