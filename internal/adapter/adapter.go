// Package adapter is the per-instance source of truth for which schemas
// exist and how to run operations against them. It owns the registry of
// compiled schemas, merges extensions, persists declarations and rebuilds
// the registry from them on boot. Backend specifics live in the
// relational and document subpackages.
package adapter

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/faucetdb/schemad/internal/contract"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/metric"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/permission"
)

// DeletedMessage is the summary returned by a successful DeleteSchema.
const DeletedMessage = "Schema deleted!"

// Options configures an Adapter.
type Options struct {
	// Store overrides the schema store built into the backend.
	Store   SchemaStore
	Logger  *slog.Logger
	Metrics *metric.Metrics
	Retry   RetryConfig
}

// Adapter owns the backend connection and the schema registry. Reads take
// a shared lock; schema mutations are serialized and swap whole entries.
type Adapter struct {
	backend       Backend
	storeOverride SchemaStore
	logger        *slog.Logger
	metrics       *metric.Metrics
	retry         RetryConfig

	connMu    sync.Mutex
	connected bool

	writeMu sync.Mutex
	mu      sync.RWMutex
	schemas map[string]*SchemaAdapter
	version uint64
}

// New creates an Adapter over backend. Nothing is contacted until
// EnsureConnected.
func New(backend Backend, opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		backend:       backend,
		storeOverride: opts.Store,
		logger:        logger,
		metrics:       opts.Metrics,
		retry:         opts.Retry.withDefaults(),
		schemas:       make(map[string]*SchemaAdapter),
	}
}

// Backend returns the backend the adapter drives.
func (a *Adapter) Backend() Backend { return a.backend }

// Start connects, retrying within the configured budget, and then rebuilds
// the registry from persisted declarations. Callers must not serve traffic
// before Start returns.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.EnsureConnected(ctx); err != nil {
		return err
	}
	return a.RecoverSchemas(ctx)
}

// Ping checks the backend connection.
func (a *Adapter) Ping(ctx context.Context) error {
	a.connMu.Lock()
	connected := a.connected
	a.connMu.Unlock()
	if !connected {
		return dberr.FailedPrecondition("database is not connected")
	}
	return dberr.Backend(a.backend.Ping(ctx), "ping database")
}

// Close disconnects the backend.
func (a *Adapter) Close(ctx context.Context) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if !a.connected {
		return nil
	}
	a.connected = false
	return a.backend.Close(ctx)
}

func (a *Adapter) store() SchemaStore {
	if a.storeOverride != nil {
		return a.storeOverride
	}
	return a.backend.Store()
}

// RecoverSchemas compiles every persisted declaration. A declaration that
// fails to compile is logged and skipped so the others still come up.
func (a *Adapter) RecoverSchemas(ctx context.Context) error {
	decls, err := a.store().List(ctx)
	if err != nil {
		return dberr.Backend(err, "list declared schemas")
	}

	recovered := 0
	for _, d := range decls {
		a.writeMu.Lock()
		_, err := a.install(ctx, d, a.lookupAdapter(d.Schema.Name), false)
		a.writeMu.Unlock()
		if err != nil {
			a.logger.Error("failed to recover schema", "schema", d.Schema.Name, "error", err)
			continue
		}
		recovered++
	}
	a.logger.Info("schemas recovered", "count", recovered, "failed", len(decls)-recovered)
	return nil
}

// CreateSchemaFromAdapter registers schema. When a schema of that name
// already exists the declaration is folded into it: the base owner
// replaces the base definition, any other module replaces its own
// extension. The merged model is recompiled and persisted either way.
func (a *Adapter) CreateSchemaFromAdapter(ctx context.Context, schema model.Schema) (*SchemaAdapter, error) {
	if err := model.ValidateSchemaName(schema.Name); err != nil {
		return nil, err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	existing := a.lookupAdapter(schema.Name)
	if existing == nil {
		return a.install(ctx, model.Declaration{}.WithBase(schema), nil, true)
	}

	owner := schema.OwnerModule
	if owner == "" {
		owner = existing.Owner()
	}

	var decl model.Declaration
	if owner == existing.Owner() {
		base := schema.Clone()
		base.OwnerModule = existing.Owner()
		if base.CollectionName == "" {
			base.CollectionName = existing.Declaration.Schema.CollectionName
		}
		decl = existing.Declaration.WithExtension(owner, nil).WithBase(base)
	} else {
		if !existing.Declaration.Schema.Options.Permissions.Extendable {
			return nil, dberr.PermissionDenied("schema %s is not extendable, module %s cannot extend it", schema.Name, owner)
		}
		decl = existing.Declaration.WithExtension(owner, schema.Fields)
	}
	return a.install(ctx, decl, existing, true)
}

// SetSchemaExtension replaces owner's extension of schemaName with fields.
// Empty fields remove the extension.
func (a *Adapter) SetSchemaExtension(ctx context.Context, schemaName, owner string, fields model.Fields) (*SchemaAdapter, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	existing := a.lookupAdapter(schemaName)
	if existing == nil {
		return nil, dberr.NotFound("Schema does not exist")
	}
	if !existing.Declaration.Schema.Options.Permissions.Extendable && owner != existing.Owner() {
		return nil, dberr.PermissionDenied("schema %s is not extendable, module %s cannot extend it", schemaName, owner)
	}
	return a.install(ctx, existing.Declaration.WithExtension(owner, fields), existing, true)
}

// ApplyDeclaration folds a declaration received from a peer into the
// registry. The base section and each owner's extension keep whichever
// copy was stamped last (see model.Declaration.Reconcile), so concurrent
// changes made on different instances are all kept. It reports false
// without recompiling when the result equals what the registry holds.
func (a *Adapter) ApplyDeclaration(ctx context.Context, d model.Declaration) (*SchemaAdapter, bool, error) {
	if err := model.ValidateSchemaName(d.Schema.Name); err != nil {
		return nil, false, err
	}

	d = d.Normalized()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	existing := a.lookupAdapter(d.Schema.Name)
	if existing != nil {
		d = existing.Declaration.Reconcile(d)
		if existing.Declaration.Equal(d) {
			return existing, false, nil
		}
	}
	sa, err := a.install(ctx, d, existing, true)
	if err != nil {
		return nil, false, err
	}
	return sa, true, nil
}

// install compiles d, optionally persists it and swaps it into the
// registry. writeMu must be held.
func (a *Adapter) install(ctx context.Context, d model.Declaration, prev *SchemaAdapter, persist bool) (*SchemaAdapter, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	merged := d.Merged()
	if v, ok := a.backend.(SchemaValidator); ok {
		if err := v.ValidateSchema(merged); err != nil {
			return nil, err
		}
	}

	if prev != nil {
		report := contract.DiffFields(merged.Name, prev.Schema.Fields, merged.Fields)
		for _, item := range report.Breaking() {
			a.logger.Warn("breaking schema change, existing data is kept",
				"schema", merged.Name, "field", item.ColumnName, "change", item.Category, "detail", item.Description)
		}
	}

	m, err := a.backend.Compile(ctx, merged, a.lookupModel)
	if err != nil {
		return nil, dberr.Backend(err, "compile schema "+merged.Name)
	}
	if persist {
		if err := a.store().Save(ctx, d); err != nil {
			return nil, dberr.Backend(err, "persist schema "+merged.Name)
		}
	}

	a.mu.Lock()
	a.version++
	sa := newSchemaAdapter(d, m, a.version)
	a.schemas[merged.Name] = sa
	count := len(a.schemas)
	a.mu.Unlock()

	a.metrics.SetSchemas(count)
	a.logger.Info("schema compiled", "schema", merged.Name, "version", sa.Version, "extensions", len(d.Live()))
	return sa, nil
}

// GetSchema returns the registry entry for name.
func (a *Adapter) GetSchema(name string) (*SchemaAdapter, error) {
	sa := a.lookupAdapter(name)
	if sa == nil {
		return nil, dberr.NotFound("schema %s not found", name)
	}
	return sa, nil
}

// GetSchemas returns every registry entry ordered by name.
func (a *Adapter) GetSchemas() []*SchemaAdapter {
	a.mu.RLock()
	out := make([]*SchemaAdapter, 0, len(a.schemas))
	for _, sa := range a.schemas {
		out = append(out, sa)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// GetSchemaModel is GetSchema for CRUD paths: the entry is guaranteed to
// carry a compiled model.
func (a *Adapter) GetSchemaModel(name string) (*SchemaAdapter, error) {
	sa, err := a.GetSchema(name)
	if err != nil {
		return nil, err
	}
	if sa.Model == nil {
		return nil, dberr.Internal("schema %s is registered without a model", name)
	}
	return sa, nil
}

// DeleteSchema unregisters name on behalf of module and, when deleteData
// is set, drops its table or collection. Extensions other schemas hold on
// relations to it are left in place.
func (a *Adapter) DeleteSchema(ctx context.Context, name string, deleteData bool, module string) (string, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	sa := a.lookupAdapter(name)
	if sa == nil {
		return "", dberr.NotFound("schema %s not found", name)
	}
	if err := permission.CanDelete(module, sa.Declaration.Schema); err != nil {
		return "", err
	}

	if deleteData {
		if err := a.backend.Drop(ctx, sa.Schema); err != nil {
			return "", dberr.Backend(err, "drop "+sa.Schema.Collection())
		}
	}
	if err := a.store().Delete(ctx, name); err != nil && !errors.Is(err, dberr.ErrNotFound) {
		return "", dberr.Backend(err, "delete declared schema")
	}
	a.remove(name)
	a.logger.Info("schema deleted", "schema", name, "module", module, "data_dropped", deleteData)
	return DeletedMessage, nil
}

// Unregister drops name from the registry and the schema store without
// touching its data. Used when a peer reports the schema was deleted.
func (a *Adapter) Unregister(ctx context.Context, name string) bool {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.lookupAdapter(name) == nil {
		return false
	}
	if err := a.store().Delete(ctx, name); err != nil && !errors.Is(err, dberr.ErrNotFound) {
		a.logger.Warn("failed to delete declared schema", "schema", name, "error", err)
	}
	a.remove(name)
	return true
}

func (a *Adapter) remove(name string) {
	a.mu.Lock()
	delete(a.schemas, name)
	count := len(a.schemas)
	a.mu.Unlock()
	a.metrics.SetSchemas(count)
}

func (a *Adapter) lookupAdapter(name string) *SchemaAdapter {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.schemas[name]
}

func (a *Adapter) lookupModel(name string) (Model, bool) {
	sa := a.lookupAdapter(name)
	if sa == nil || sa.Model == nil {
		return nil, false
	}
	return sa.Model, true
}
