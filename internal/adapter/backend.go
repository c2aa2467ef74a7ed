package adapter

import (
	"context"

	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// Record is one stored document or row as returned to callers.
type Record = map[string]any

// FindOptions shapes a read.
type FindOptions struct {
	Skip   int
	Limit  int
	Select string
	Sort   []query.OrderClause
}

// UpdateOptions shapes findByIdAndUpdate and updateMany. ProvidedOnly
// merges the update into the stored record instead of replacing it.
type UpdateOptions struct {
	ProvidedOnly bool
}

// UpdateResult reports how many records an updateMany matched and changed.
type UpdateResult struct {
	Matched  int64 `json:"matchedCount"`
	Modified int64 `json:"modifiedCount"`
}

// DeleteResult reports how many records a delete removed.
type DeleteResult struct {
	DeletedCount int64 `json:"deletedCount"`
}

// Model executes CRUD against one compiled schema. Implementations return
// dberr-classified errors; driver failures are Internal.
type Model interface {
	Create(ctx context.Context, doc query.Document) (Record, error)
	CreateMany(ctx context.Context, docs []query.Document) ([]Record, error)
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, filter query.Document, opts FindOptions) (Record, error)
	FindMany(ctx context.Context, filter query.Document, opts FindOptions) ([]Record, error)
	// FindByIDAndUpdate returns NotFound when no record has the id.
	FindByIDAndUpdate(ctx context.Context, id string, update query.Document, opts UpdateOptions) (Record, error)
	UpdateMany(ctx context.Context, filter, update query.Document, opts UpdateOptions) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter query.Document) (DeleteResult, error)
	DeleteMany(ctx context.Context, filter query.Document) (DeleteResult, error)
	CountDocuments(ctx context.Context, filter query.Document) (int64, error)
}

// Lookup resolves another registered schema's model, used when a create
// fans out into related schemas.
type Lookup func(name string) (Model, bool)

// SchemaStore persists schema declarations so they survive restarts.
type SchemaStore interface {
	Save(ctx context.Context, d model.Declaration) error
	// Load fails with NotFound when nothing is stored under name.
	Load(ctx context.Context, name string) (model.Declaration, error)
	List(ctx context.Context) ([]model.Declaration, error)
	Delete(ctx context.Context, name string) error
}

// Backend is one concrete data store the adapter drives.
type Backend interface {
	// Name is "sql" or "mongodb".
	Name() string
	Connect(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	// Store returns the schema store living inside the backend itself.
	// It is only valid once connected.
	Store() SchemaStore

	// Compile makes the backing table or collection match schema and
	// returns a model bound to it. Compiling an already compiled schema
	// again is safe.
	Compile(ctx context.Context, schema model.Schema, lookup Lookup) (Model, error)
	// Drop removes the schema's table or collection and all its data.
	Drop(ctx context.Context, schema model.Schema) error
}

// SchemaValidator is implemented by backends that restrict schemas beyond
// what the model allows, such as field names a relational column cannot
// carry. The merged schema is checked before it is compiled or persisted.
type SchemaValidator interface {
	ValidateSchema(schema model.Schema) error
}
