package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/query"
)

// AppendFunc renders expr with one element appended, binding the element
// through placeholder ph. It returns the SQL and the value to bind.
type AppendFunc func(expr, ph string, elem any) (string, any, error)

// Base implements the builders whose SQL shape is identical across
// dialects. Dialect connectors embed it and supply the hooks.
type Base struct {
	SQL query.Dialect
	// Table renders the quoted, possibly schema-qualified table name.
	Table func(name string) string
	// Append renders one JSON array append step.
	Append AppendFunc
}

// Where translates filter into a WHERE clause whose placeholders start at
// next. An empty filter yields an empty clause.
func (b Base) Where(filter query.Document, next int) (string, []any, error) {
	parsed, err := query.ToSQL(filter, b.SQL, next)
	if err != nil {
		return "", nil, err
	}
	if parsed == nil {
		return "", nil, nil
	}
	return " WHERE " + parsed.SQL, parsed.Params, nil
}

// BuildInsert constructs a multi-row INSERT. Columns missing from a record
// are bound as NULL.
func (b Base) BuildInsert(_ context.Context, req InsertRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if len(req.Records) == 0 {
		return "", nil, fmt.Errorf("at least one record is required")
	}

	columns := req.Columns
	if len(columns) == 0 {
		columns = SortedKeys(req.Records[0])
	}
	quoted, err := query.QuoteIdentifiers(columns, b.SQL.Quote)
	if err != nil {
		return "", nil, dberr.InvalidArgument("%v", err)
	}

	var sb strings.Builder
	args := make([]any, 0, len(columns)*len(req.Records))
	next := 1

	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.Table(req.Table))
	sb.WriteString(" (")
	sb.WriteString(quoted)
	sb.WriteString(") VALUES ")
	for rowIdx, record := range req.Records {
		if rowIdx > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for colIdx, col := range columns {
			if colIdx > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.SQL.Placeholder(next))
			next++
			args = append(args, record[col])
		}
		sb.WriteString(")")
	}
	return sb.String(), args, nil
}

// BuildUpdate constructs an UPDATE with parameterized SET values. An empty
// filter updates every row.
func (b Base) BuildUpdate(_ context.Context, req UpdateRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if len(req.Record) == 0 {
		return "", nil, fmt.Errorf("at least one field to update is required")
	}

	columns := SortedKeys(req.Record)
	var sb strings.Builder
	args := make([]any, 0, len(columns))

	sb.WriteString("UPDATE ")
	sb.WriteString(b.Table(req.Table))
	sb.WriteString(" SET ")
	for i, col := range columns {
		if err := query.ValidateIdentifier(col); err != nil {
			return "", nil, dberr.InvalidArgument("%v", err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.SQL.Quote(col))
		sb.WriteString(" = ")
		sb.WriteString(b.SQL.Placeholder(i + 1))
		args = append(args, req.Record[col])
	}

	where, whereArgs, err := b.Where(req.Filter, len(args)+1)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(where)
	return sb.String(), append(args, whereArgs...), nil
}

// BuildDelete constructs a DELETE. An empty filter deletes every row.
func (b Base) BuildDelete(_ context.Context, req DeleteRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	where, args, err := b.Where(req.Filter, 1)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM " + b.Table(req.Table) + where, args, nil
}

// BuildCount constructs a SELECT COUNT(*) query with optional filtering.
func (b Base) BuildCount(_ context.Context, req CountRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	where, args, err := b.Where(req.Filter, 1)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM " + b.Table(req.Table) + where, args, nil
}

// BuildIncrement constructs an UPDATE that adds to numeric columns in place.
func (b Base) BuildIncrement(_ context.Context, req IncrementRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if len(req.Deltas) == 0 {
		return "", nil, fmt.Errorf("at least one column to increment is required")
	}

	columns := make([]string, 0, len(req.Deltas))
	for col := range req.Deltas {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	var sb strings.Builder
	args := make([]any, 0, len(columns))
	sb.WriteString("UPDATE ")
	sb.WriteString(b.Table(req.Table))
	sb.WriteString(" SET ")
	for i, col := range columns {
		if err := query.ValidateIdentifier(col); err != nil {
			return "", nil, dberr.InvalidArgument("%v", err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		q := b.SQL.Quote(col)
		fmt.Fprintf(&sb, "%s = COALESCE(%s, 0) + %s", q, q, b.SQL.Placeholder(i+1))
		args = append(args, req.Deltas[col])
	}

	where, whereArgs, err := b.Where(req.Filter, len(args)+1)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(where)
	return sb.String(), append(args, whereArgs...), nil
}

// BuildArrayAppend constructs an UPDATE that appends every value to a JSON
// array column, nesting one dialect append step per value.
func (b Base) BuildArrayAppend(_ context.Context, req ArrayAppendRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if len(req.Values) == 0 {
		return "", nil, fmt.Errorf("at least one value to append is required")
	}
	if err := query.ValidateIdentifier(req.Column); err != nil {
		return "", nil, dberr.InvalidArgument("%v", err)
	}

	col := b.SQL.Quote(req.Column)
	expr := col
	args := make([]any, 0, len(req.Values))
	for i, v := range req.Values {
		next, arg, err := b.Append(expr, b.SQL.Placeholder(i+1), v)
		if err != nil {
			return "", nil, err
		}
		expr = next
		args = append(args, arg)
	}

	where, whereArgs, err := b.Where(req.Filter, len(args)+1)
	if err != nil {
		return "", nil, err
	}
	stmt := "UPDATE " + b.Table(req.Table) + " SET " + col + " = " + expr + where
	return stmt, append(args, whereArgs...), nil
}

// Dialect returns the filter dialect of the connector.
func (b Base) Dialect() query.Dialect { return b.SQL }

// QuoteIdentifier quotes name in the connector's dialect.
func (b Base) QuoteIdentifier(name string) string { return b.SQL.Quote(name) }

// ParameterPlaceholder returns the placeholder for a 1-based index.
func (b Base) ParameterPlaceholder(index int) string { return b.SQL.Placeholder(index) }

// SortedKeys returns the keys of m in sorted order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalElement encodes a single array element as JSON text.
func MarshalElement(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", dberr.Wrap(dberr.KindInvalidArgument, err, "array element is not serializable")
	}
	return string(raw), nil
}

// UniqueIndexName is the name of the unique index backing column on table.
func UniqueIndexName(table, column string) string {
	return "uq_" + table + "_" + column
}
