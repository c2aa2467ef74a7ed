package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// BuildSelect constructs a SELECT query from the given request.
// It quotes all identifiers, qualifies the table with the schema name and
// uses $N parameter placeholders.
func (c *PostgresConnector) BuildSelect(_ context.Context, req connector.SelectRequest) (string, []any, error) {
	if req.Table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	fields, err := query.QuoteIdentifiers(req.Fields, c.QuoteIdentifier)
	if err != nil {
		return "", nil, dberr.InvalidArgument("%v", err)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(fields)
	b.WriteString(" FROM ")
	b.WriteString(c.qualified(req.Table))

	where, args, err := c.Where(req.Filter, 1)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(where)

	if order := query.BuildOrderSQL(req.Order, c.QuoteIdentifier); order != "" {
		b.WriteString(" ")
		b.WriteString(order)
	}

	if req.Limit > 0 {
		b.WriteString(" ")
		b.WriteString(query.BuildLimitOffset(req.Limit, req.Offset))
	} else if req.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", req.Offset)
	}

	return b.String(), args, nil
}

// BuildUpsert constructs an INSERT ... ON CONFLICT DO UPDATE keyed on req.Key.
func (c *PostgresConnector) BuildUpsert(_ context.Context, req connector.UpsertRequest) (string, []any, error) {
	if req.Table == "" || req.Key == "" {
		return "", nil, fmt.Errorf("table name and key column are required")
	}
	if _, ok := req.Record[req.Key]; !ok {
		return "", nil, fmt.Errorf("record has no value for key column %q", req.Key)
	}

	columns := connector.SortedKeys(req.Record)
	quoted, err := query.QuoteIdentifiers(columns, c.QuoteIdentifier)
	if err != nil {
		return "", nil, dberr.InvalidArgument("%v", err)
	}

	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	sets := make([]string, 0, len(columns))
	for i, col := range columns {
		placeholders[i] = c.ParameterPlaceholder(i + 1)
		args[i] = req.Record[col]
		if col != req.Key {
			q := c.QuoteIdentifier(col)
			sets = append(sets, q+" = EXCLUDED."+q)
		}
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		c.qualified(req.Table), quoted, strings.Join(placeholders, ", "), c.QuoteIdentifier(req.Key))
	if len(sets) == 0 {
		stmt += "DO NOTHING"
	} else {
		stmt += "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return stmt, args, nil
}

// CreateTable creates the table if it does not exist yet.
func (c *PostgresConnector) CreateTable(ctx context.Context, def model.TableSchema) error {
	if def.Name == "" {
		return fmt.Errorf("table name is required")
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(c.qualified(def.Name))
	b.WriteString(" (\n")

	for i, col := range def.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("  ")
		b.WriteString(c.QuoteIdentifier(col.Name))
		b.WriteString(" ")
		b.WriteString(columnType(col))
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if col.IsUnique {
			b.WriteString(" UNIQUE")
		}
	}

	if len(def.PrimaryKey) > 0 {
		quotedPKs, err := query.QuoteIdentifiers(def.PrimaryKey, c.QuoteIdentifier)
		if err != nil {
			return err
		}
		b.WriteString(",\n  PRIMARY KEY (")
		b.WriteString(quotedPKs)
		b.WriteString(")")
	}
	b.WriteString("\n)")

	if _, err := c.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("create table %q: %w", def.Name, err)
	}
	return nil
}

// AlterTable applies additive schema changes.
func (c *PostgresConnector) AlterTable(ctx context.Context, tableName string, changes []connector.SchemaChange) error {
	if tableName == "" {
		return fmt.Errorf("table name is required")
	}

	for _, change := range changes {
		if change.Type != "add_column" {
			return fmt.Errorf("unsupported schema change type: %s", change.Type)
		}
		if change.Definition == nil {
			return fmt.Errorf("column definition required for add_column")
		}
		uniqueStr := ""
		if change.Definition.IsUnique {
			uniqueStr = " UNIQUE"
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s%s",
			c.qualified(tableName),
			c.QuoteIdentifier(change.Column),
			columnType(*change.Definition),
			uniqueStr,
		)
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("alter table %q (%s %s): %w", tableName, change.Type, change.Column, err)
		}
	}
	return nil
}

// DropTable drops a table if it exists.
func (c *PostgresConnector) DropTable(ctx context.Context, tableName string) error {
	if tableName == "" {
		return fmt.Errorf("table name is required")
	}
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", c.qualified(tableName))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop table %q: %w", tableName, err)
	}
	return nil
}

// columnType maps a column to a PostgreSQL type. Arrays, embedded objects
// and JSON fields are stored as JSONB.
func columnType(col model.Column) string {
	if col.Type != "" {
		return col.Type
	}
	if col.IsJSON() {
		return "JSONB"
	}
	switch col.Kind {
	case model.KindNumber:
		return "DOUBLE PRECISION"
	case model.KindBoolean:
		return "BOOLEAN"
	case model.KindDate:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
