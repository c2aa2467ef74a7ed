package relational

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// Model runs CRUD against the table compiled from one schema.
type Model struct {
	conn    connector.Connector
	schema  model.Schema
	table   model.TableSchema
	columns map[string]model.Column
	names   []string
	lookup  adapter.Lookup
	now     func() time.Time
}

func newModel(conn connector.Connector, schema model.Schema, table model.TableSchema, lookup adapter.Lookup, now func() time.Time) *Model {
	m := &Model{
		conn:    conn,
		schema:  schema,
		table:   table,
		columns: make(map[string]model.Column, len(table.Columns)),
		names:   make([]string, 0, len(table.Columns)),
		lookup:  lookup,
		now:     now,
	}
	for _, col := range table.Columns {
		m.columns[col.Name] = col
		m.names = append(m.names, col.Name)
	}
	return m
}

// Create inserts one record, creating embedded related records first, and
// returns the stored record.
func (m *Model) Create(ctx context.Context, doc query.Document) (adapter.Record, error) {
	recs, err := m.CreateMany(ctx, []query.Document{doc})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// CreateMany inserts every document with one statement. Related records
// created for embedded relations are not rolled back when the insert
// fails.
func (m *Model) CreateMany(ctx context.Context, docs []query.Document) ([]adapter.Record, error) {
	if len(docs) == 0 {
		return []adapter.Record{}, nil
	}

	now := m.now()
	rows := make([]map[string]any, 0, len(docs))
	ids := make([]any, 0, len(docs))
	for _, doc := range docs {
		doc = doc.Clone()
		if err := adapter.CreateWithPopulations(ctx, m.schema, doc, m.lookup); err != nil {
			return nil, err
		}
		prepared, err := adapter.PrepareCreate(m.schema, doc, now)
		if err != nil {
			return nil, err
		}
		if _, ok := prepared[model.IDField]; !ok {
			prepared[model.IDField] = uuid.NewString()
		}
		row, err := m.encodeRecord(prepared)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		ids = append(ids, prepared[model.IDField])
	}

	stmt, args, err := m.conn.BuildInsert(ctx, connector.InsertRequest{
		Table:   m.table.Name,
		Columns: m.names,
		Records: rows,
	})
	if err != nil {
		return nil, dberr.Backend(err, "build insert")
	}
	if _, err := m.exec(ctx, "insert into "+m.table.Name, stmt, args); err != nil {
		return nil, err
	}

	stored, err := m.selectRecords(ctx, query.Document{model.IDField: query.Document{"$in": ids}}, m.names, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[any]adapter.Record, len(stored))
	for _, rec := range stored {
		byID[rec[model.IDField]] = rec
	}
	out := make([]adapter.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindOne returns the first matching record or nil.
func (m *Model) FindOne(ctx context.Context, filter query.Document, opts adapter.FindOptions) (adapter.Record, error) {
	opts.Limit = 1
	recs, err := m.FindMany(ctx, filter, opts)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// FindMany returns the matching records projected by opts.Select.
func (m *Model) FindMany(ctx context.Context, filter query.Document, opts adapter.FindOptions) ([]adapter.Record, error) {
	proj, err := query.ParseSelect(opts.Select)
	if err != nil {
		return nil, dberr.InvalidArgument("%v", err)
	}
	for _, o := range opts.Sort {
		if _, ok := m.columns[o.Column]; !ok {
			return nil, dberr.InvalidArgument("cannot sort by unknown field %s", o.Column)
		}
	}
	fields := proj.Columns(m.names, m.schema.Fields.Excluded(), model.IDField)
	if len(fields) == 0 {
		fields = []string{model.IDField}
	}
	return m.selectRecords(ctx, filter, fields, opts.Sort, opts.Limit, opts.Skip)
}

// DeleteOne removes the first matching record.
func (m *Model) DeleteOne(ctx context.Context, filter query.Document) (adapter.DeleteResult, error) {
	ids, err := m.matchingIDs(ctx, filter, 1)
	if err != nil || len(ids) == 0 {
		return adapter.DeleteResult{}, err
	}
	return m.delete(ctx, query.Document{model.IDField: ids[0]})
}

// DeleteMany removes every matching record.
func (m *Model) DeleteMany(ctx context.Context, filter query.Document) (adapter.DeleteResult, error) {
	return m.delete(ctx, filter)
}

func (m *Model) delete(ctx context.Context, filter query.Document) (adapter.DeleteResult, error) {
	stmt, args, err := m.conn.BuildDelete(ctx, connector.DeleteRequest{Table: m.table.Name, Filter: filter})
	if err != nil {
		return adapter.DeleteResult{}, dberr.Backend(err, "build delete")
	}
	res, err := m.exec(ctx, "delete from "+m.table.Name, stmt, args)
	if err != nil {
		return adapter.DeleteResult{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return adapter.DeleteResult{}, dberr.Backend(err, "rows affected")
	}
	return adapter.DeleteResult{DeletedCount: n}, nil
}

// CountDocuments counts the matching records.
func (m *Model) CountDocuments(ctx context.Context, filter query.Document) (int64, error) {
	stmt, args, err := m.conn.BuildCount(ctx, connector.CountRequest{Table: m.table.Name, Filter: filter})
	if err != nil {
		return 0, dberr.Backend(err, "build count")
	}
	var n int64
	if err := m.conn.DB().QueryRowxContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, dberr.Backend(err, "count "+m.table.Name)
	}
	return n, nil
}

func (m *Model) exec(ctx context.Context, op, stmt string, args []any) (sql.Result, error) {
	res, err := m.conn.DB().ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, dberr.Backend(err, op)
	}
	return res, nil
}

// selectRecords runs a select and decodes every row. Rows are drained and
// closed before returning because an in-memory database has a single
// connection.
func (m *Model) selectRecords(ctx context.Context, filter query.Document, fields []string, order []query.OrderClause, limit, offset int) ([]adapter.Record, error) {
	stmt, args, err := m.conn.BuildSelect(ctx, connector.SelectRequest{
		Table:  m.table.Name,
		Fields: fields,
		Filter: filter,
		Order:  order,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, dberr.Backend(err, "build select")
	}

	rows, err := m.conn.DB().QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, dberr.Backend(err, "select from "+m.table.Name)
	}
	var raw []map[string]any
	for rows.Next() {
		row := make(map[string]any, len(fields))
		if err := rows.MapScan(row); err != nil {
			rows.Close()
			return nil, dberr.Backend(err, "scan "+m.table.Name)
		}
		raw = append(raw, row)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, dberr.Backend(err, "select from "+m.table.Name)
	}

	out := make([]adapter.Record, 0, len(raw))
	for _, row := range raw {
		rec, err := m.decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// matchingIDs returns the ids of the records matching filter, at most
// limit of them when limit is positive.
func (m *Model) matchingIDs(ctx context.Context, filter query.Document, limit int) ([]any, error) {
	recs, err := m.selectRecords(ctx, filter, []string{model.IDField}, nil, limit, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(recs))
	for i, rec := range recs {
		ids[i] = rec[model.IDField]
	}
	return ids, nil
}
