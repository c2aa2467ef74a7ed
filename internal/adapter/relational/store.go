package relational

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// DeclarationsTable holds one row per declared schema.
const DeclarationsTable = "_declared_schemas"

var declarationsTable = model.TableSchema{
	Name:       DeclarationsTable,
	PrimaryKey: []string{"name"},
	Columns: []model.Column{
		{Name: "name", Kind: model.KindString},
		{Name: "ownerModule", Kind: model.KindString, Nullable: true},
		{Name: "declaration", Kind: model.KindString, Nullable: true},
		{Name: model.CreatedAtField, Kind: model.KindDate, Nullable: true},
		{Name: model.UpdatedAtField, Kind: model.KindDate, Nullable: true},
	},
}

// Store keeps schema declarations in the backend database itself, so
// every instance pointed at the same database recovers the same schemas.
type Store struct {
	conn connector.Connector
	now  func() time.Time
}

func newStore(conn connector.Connector, now func() time.Time) *Store {
	return &Store{conn: conn, now: now}
}

func (s *Store) ensureTable(ctx context.Context) error {
	cols, err := s.conn.TableColumns(ctx, DeclarationsTable)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", DeclarationsTable, err)
	}
	if len(cols) > 0 {
		return nil
	}
	return s.conn.CreateTable(ctx, declarationsTable)
}

// Save inserts or replaces the declaration of d.Schema.Name. The creation
// time of an existing row is kept so recovery order stays stable.
func (s *Store) Save(ctx context.Context, d model.Declaration) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return dberr.Wrap(dberr.KindInternal, err, "encode declaration")
	}
	now := s.now()
	filter := query.Document{"name": d.Schema.Name}

	n, err := s.count(ctx, filter)
	if err != nil {
		return err
	}

	var (
		stmt string
		args []any
	)
	if n == 0 {
		stmt, args, err = s.conn.BuildInsert(ctx, connector.InsertRequest{
			Table: DeclarationsTable,
			Records: []map[string]any{{
				"name":               d.Schema.Name,
				"ownerModule":        d.Schema.OwnerModule,
				"declaration":        string(raw),
				model.CreatedAtField: now,
				model.UpdatedAtField: now,
			}},
		})
	} else {
		stmt, args, err = s.conn.BuildUpdate(ctx, connector.UpdateRequest{
			Table:  DeclarationsTable,
			Filter: filter,
			Record: map[string]any{
				"ownerModule":        d.Schema.OwnerModule,
				"declaration":        string(raw),
				model.UpdatedAtField: now,
			},
		})
	}
	if err != nil {
		return err
	}
	if _, err := s.conn.DB().ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("save declaration %s: %w", d.Schema.Name, err)
	}
	return nil
}

// Load returns the declaration stored under name.
func (s *Store) Load(ctx context.Context, name string) (model.Declaration, error) {
	decls, err := s.list(ctx, query.Document{"name": name}, 1)
	if err != nil {
		return model.Declaration{}, err
	}
	if len(decls) == 0 {
		return model.Declaration{}, dberr.NotFound("no declaration stored for %s", name)
	}
	return decls[0], nil
}

// List returns every declaration in creation order.
func (s *Store) List(ctx context.Context) ([]model.Declaration, error) {
	return s.list(ctx, nil, 0)
}

// Delete removes the declaration stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	stmt, args, err := s.conn.BuildDelete(ctx, connector.DeleteRequest{
		Table:  DeclarationsTable,
		Filter: query.Document{"name": name},
	})
	if err != nil {
		return err
	}
	res, err := s.conn.DB().ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete declaration %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dberr.NotFound("no declaration stored for %s", name)
	}
	return nil
}

func (s *Store) count(ctx context.Context, filter query.Document) (int64, error) {
	stmt, args, err := s.conn.BuildCount(ctx, connector.CountRequest{Table: DeclarationsTable, Filter: filter})
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.conn.DB().QueryRowxContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count declarations: %w", err)
	}
	return n, nil
}

func (s *Store) list(ctx context.Context, filter query.Document, limit int) ([]model.Declaration, error) {
	stmt, args, err := s.conn.BuildSelect(ctx, connector.SelectRequest{
		Table:  DeclarationsTable,
		Fields: []string{"name", "declaration"},
		Filter: filter,
		Order: []query.OrderClause{
			{Column: model.CreatedAtField, Direction: "ASC"},
			{Column: "name", Direction: "ASC"},
		},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.DB().QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list declarations: %w", err)
	}
	type row struct {
		Name        string `db:"name"`
		Declaration string `db:"declaration"`
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.StructScan(&r); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan declaration: %w", err)
		}
		raw = append(raw, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list declarations: %w", err)
	}

	out := make([]model.Declaration, 0, len(raw))
	for _, r := range raw {
		var d model.Declaration
		if err := json.Unmarshal([]byte(r.Declaration), &d); err != nil {
			return nil, dberr.Wrap(dberr.KindInternal, err, "decode declaration "+r.Name)
		}
		out = append(out, d)
	}
	return out, nil
}
