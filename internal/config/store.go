package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/schemad/internal/model"
)

// Store is the local state of one schemad instance backed by SQLite. It
// persists schema declarations when schema_store.type is "local" and keeps
// instance settings such as the instance ID.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new config store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "schemad.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open config database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate config database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Schema declarations
// ---------------------------------------------------------------------------

// declarationRow maps 1:1 to the declared_schemas table. The full
// declaration (base schema plus extensions) lives in declaration_json; the
// other columns exist for listing and filtering.
type declarationRow struct {
	Name            string    `db:"name"`
	OwnerModule     string    `db:"owner_module"`
	CollectionName  string    `db:"collection_name"`
	DeclarationJSON string    `db:"declaration_json"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r declarationRow) toModel() (model.Declaration, error) {
	var d model.Declaration
	if err := json.Unmarshal([]byte(r.DeclarationJSON), &d); err != nil {
		return model.Declaration{}, fmt.Errorf("unmarshal declaration %s: %w", r.Name, err)
	}
	return d, nil
}

// Save creates or replaces the declaration of d.Schema.Name.
func (s *Store) Save(ctx context.Context, d model.Declaration) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal declaration: %w", err)
	}

	now := time.Now().UTC()
	row := declarationRow{
		Name:            d.Schema.Name,
		OwnerModule:     d.Schema.OwnerModule,
		CollectionName:  d.Schema.CollectionName,
		DeclarationJSON: string(raw),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	const q = `INSERT INTO declared_schemas
		(name, owner_module, collection_name, declaration_json, created_at, updated_at)
		VALUES (:name, :owner_module, :collection_name, :declaration_json, :created_at, :updated_at)
		ON CONFLICT(name) DO UPDATE SET
			owner_module = excluded.owner_module,
			collection_name = excluded.collection_name,
			declaration_json = excluded.declaration_json,
			updated_at = excluded.updated_at`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("save declaration: %w", err)
	}
	return nil
}

// Load returns the declaration stored under name.
func (s *Store) Load(ctx context.Context, name string) (model.Declaration, error) {
	var row declarationRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM declared_schemas WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Declaration{}, ErrNotFound
		}
		return model.Declaration{}, fmt.Errorf("get declaration: %w", err)
	}
	return row.toModel()
}

// List returns every stored declaration in creation order, so schemas
// are recovered in the order they were first declared.
func (s *Store) List(ctx context.Context) ([]model.Declaration, error) {
	var rows []declarationRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM declared_schemas ORDER BY created_at, name"); err != nil {
		return nil, fmt.Errorf("list declarations: %w", err)
	}

	out := make([]model.Declaration, 0, len(rows))
	for _, r := range rows {
		d, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Delete removes the declaration stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM declared_schemas WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete declaration: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete declaration rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value stored under key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores value under key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

const instanceIDKey = "instance_id"

// InstanceID returns this instance's stable identifier, generating and
// storing one on first use. The synchronizer stamps it on every broadcast.
func (s *Store) InstanceID(ctx context.Context) (string, error) {
	id, err := s.GetSetting(ctx, instanceIDKey)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	id = uuid.NewString()
	if err := s.SetSetting(ctx, instanceIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}
