// Package relational is the SQL backend of the database adapter. Every
// schema compiles to one table; nested objects and arrays live in JSON
// columns and document-store update directives are emulated on top of the
// connector's statement builders.
package relational

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// connectionName is the registry key of the backend's connection.
const connectionName = "schemad"

// Backend drives one relational database through a connector.
type Backend struct {
	registry *connector.Registry
	cfg      connector.ConnectionConfig
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	conn  connector.Connector
	store *Store
}

// New creates a Backend that connects with cfg through a driver
// registered on registry.
func New(registry *connector.Registry, cfg connector.ConnectionConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.DSN = connector.SanitizeDSN(cfg.Driver, cfg.DSN)
	return &Backend{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name implements adapter.Backend.
func (b *Backend) Name() string { return "sql" }

// Connect opens the connection and makes sure the declaration table
// exists.
func (b *Backend) Connect(ctx context.Context) error {
	conn, err := b.registry.Connect(ctx, connectionName, b.cfg)
	if err != nil {
		return err
	}
	store := newStore(conn, b.now)
	if err := store.ensureTable(ctx); err != nil {
		b.registry.Disconnect(connectionName)
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.store = store
	b.mu.Unlock()
	return nil
}

// Ping implements adapter.Backend.
func (b *Backend) Ping(ctx context.Context) error {
	conn, err := b.connector()
	if err != nil {
		return err
	}
	return conn.Ping(ctx)
}

// Close disconnects from the database.
func (b *Backend) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	b.conn = nil
	b.store = nil
	return b.registry.Disconnect(connectionName)
}

// Store returns the _declared_schemas table store.
func (b *Backend) Store() adapter.SchemaStore {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store
}

// Connector returns the live connector.
func (b *Backend) Connector() (connector.Connector, error) {
	return b.connector()
}

func (b *Backend) connector() (connector.Connector, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil {
		return nil, dberr.FailedPrecondition("%s backend is not connected", b.cfg.Driver)
	}
	return b.conn, nil
}

// Compile creates the schema's table when it does not exist yet and adds
// a column for every field the table lacks. Columns are never dropped or
// retyped.
func (b *Backend) Compile(ctx context.Context, schema model.Schema, lookup adapter.Lookup) (adapter.Model, error) {
	conn, err := b.connector()
	if err != nil {
		return nil, err
	}
	table := model.TableFor(schema)

	live, err := conn.TableColumns(ctx, table.Name)
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table.Name, err)
	}
	if len(live) == 0 {
		if err := conn.CreateTable(ctx, table); err != nil {
			return nil, err
		}
		b.logger.Debug("table created", "table", table.Name, "columns", len(table.Columns))
	} else if changes := missingColumns(live, table); len(changes) > 0 {
		if err := conn.AlterTable(ctx, table.Name, changes); err != nil {
			return nil, err
		}
		b.logger.Info("table altered", "table", table.Name, "added", len(changes))
	}

	return newModel(conn, schema, table, lookup, b.now), nil
}

// ValidateSchema rejects schemas whose table or top-level field names
// cannot be used as SQL identifiers. Nested object fields live inside a
// JSON column and are not checked.
func (b *Backend) ValidateSchema(schema model.Schema) error {
	if err := query.ValidateIdentifier(schema.Collection()); err != nil {
		return dberr.InvalidArgument("schema %s cannot be stored as a table: %v", schema.Name, err)
	}
	for _, f := range schema.Fields {
		if err := query.ValidateIdentifier(f.Name); err != nil {
			return dberr.InvalidArgument("field %q of %s cannot be stored as a column: %v", f.Name, schema.Name, err)
		}
	}
	return nil
}

// Drop removes the schema's table.
func (b *Backend) Drop(ctx context.Context, schema model.Schema) error {
	conn, err := b.connector()
	if err != nil {
		return err
	}
	return conn.DropTable(ctx, schema.Collection())
}

func missingColumns(live []string, table model.TableSchema) []connector.SchemaChange {
	have := make(map[string]bool, len(live))
	for _, c := range live {
		have[c] = true
	}
	var changes []connector.SchemaChange
	for i := range table.Columns {
		col := table.Columns[i]
		if have[col.Name] {
			continue
		}
		changes = append(changes, connector.SchemaChange{
			Type:       "add_column",
			Column:     col.Name,
			Definition: &col,
		})
	}
	return changes
}
