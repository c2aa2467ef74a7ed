package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// BuildSelect constructs a SELECT query from the given request using
// SQL Server OFFSET/FETCH NEXT pagination.
func (c *MSSQLConnector) BuildSelect(_ context.Context, req connector.SelectRequest) (string, []any, error) {
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
	paramIdx := len(args) + 1

	// ORDER BY clause (required for OFFSET/FETCH NEXT)
	if order := query.BuildOrderSQL(req.Order, c.QuoteIdentifier); order != "" {
		b.WriteString(" ")
		b.WriteString(order)
	} else if req.Offset > 0 || req.Limit > 0 {
		b.WriteString(" ORDER BY (SELECT NULL)")
	}

	if req.Offset > 0 || req.Limit > 0 {
		fmt.Fprintf(&b, " OFFSET @p%d ROWS", paramIdx)
		args = append(args, req.Offset)
		paramIdx++

		if req.Limit > 0 {
			fmt.Fprintf(&b, " FETCH NEXT @p%d ROWS ONLY", paramIdx)
			args = append(args, req.Limit)
		}
	}

	return b.String(), args, nil
}

// BuildUpsert constructs a MERGE keyed on req.Key.
func (c *MSSQLConnector) BuildUpsert(_ context.Context, req connector.UpsertRequest) (string, []any, error) {
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

	sources := make([]string, len(columns))
	inserts := make([]string, len(columns))
	sets := make([]string, 0, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		q := c.QuoteIdentifier(col)
		sources[i] = fmt.Sprintf("@p%d AS %s", i+1, q)
		inserts[i] = "src." + q
		args[i] = req.Record[col]
		if col != req.Key {
			sets = append(sets, "tgt."+q+" = src."+q)
		}
	}

	key := c.QuoteIdentifier(req.Key)
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s AS tgt USING (SELECT %s) AS src ON tgt.%s = src.%s",
		c.qualified(req.Table), strings.Join(sources, ", "), key, key)
	if len(sets) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);", quoted, strings.Join(inserts, ", "))
	return b.String(), args, nil
}

// CreateTable creates the table unless an object of that name exists.
func (c *MSSQLConnector) CreateTable(ctx context.Context, def model.TableSchema) error {
	if def.Name == "" {
		return fmt.Errorf("table name is required")
	}

	qualified := c.qualified(def.Name)
	var b strings.Builder
	fmt.Fprintf(&b, "IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n",
		strings.ReplaceAll(qualified, "'", "''"), qualified)

	for i, col := range def.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("  ")
		b.WriteString(c.QuoteIdentifier(col.Name))
		b.WriteString(" ")
		b.WriteString(columnType(col, isKey(def, col.Name)))
		if !col.Nullable {
			b.WriteString(" NOT NULL")
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

	// UNIQUE constraints in SQL Server admit a single NULL; a filtered
	// index admits any number.
	for _, col := range def.Columns {
		if !col.IsUnique {
			continue
		}
		if err := c.createUniqueIndex(ctx, def.Name, col.Name); err != nil {
			return err
		}
	}
	return nil
}

func (c *MSSQLConnector) createUniqueIndex(ctx context.Context, table, column string) error {
	name := connector.UniqueIndexName(table, column)
	stmt := fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = @p1 AND object_id = OBJECT_ID(@p2))\n"+
			"CREATE UNIQUE INDEX %s ON %s (%s) WHERE %s IS NOT NULL",
		c.QuoteIdentifier(name), c.qualified(table), c.QuoteIdentifier(column), c.QuoteIdentifier(column))
	if _, err := c.db.ExecContext(ctx, stmt, name, c.qualified(table)); err != nil {
		return fmt.Errorf("create unique index on %q.%q: %w", table, column, err)
	}
	return nil
}

// AlterTable applies additive schema changes, skipping columns that exist.
func (c *MSSQLConnector) AlterTable(ctx context.Context, tableName string, changes []connector.SchemaChange) error {
	if tableName == "" {
		return fmt.Errorf("table name is required")
	}

	existing, err := c.TableColumns(ctx, tableName)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for _, change := range changes {
		if change.Type != "add_column" {
			return fmt.Errorf("unsupported schema change type: %s", change.Type)
		}
		if change.Definition == nil {
			return fmt.Errorf("column definition required for add_column")
		}
		if !have[change.Column] {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD %s %s NULL",
				c.qualified(tableName),
				c.QuoteIdentifier(change.Column),
				columnType(*change.Definition, false),
			)
			if _, err := c.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("alter table %q (%s %s): %w", tableName, change.Type, change.Column, err)
			}
		}
		if change.Definition.IsUnique {
			if err := c.createUniqueIndex(ctx, tableName, change.Column); err != nil {
				return err
			}
		}
	}
	return nil
}

// DropTable drops a table if it exists.
func (c *MSSQLConnector) DropTable(ctx context.Context, tableName string) error {
	if tableName == "" {
		return fmt.Errorf("table name is required")
	}
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", c.qualified(tableName))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop table %q: %w", tableName, err)
	}
	return nil
}

func isKey(def model.TableSchema, name string) bool {
	for _, pk := range def.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return false
}

// columnType maps a column to a SQL Server type. NVARCHAR(MAX) cannot be
// indexed, so keys and unique strings are bounded.
func columnType(col model.Column, key bool) string {
	if col.Type != "" {
		return col.Type
	}
	if col.IsJSON() {
		return "NVARCHAR(MAX)"
	}
	switch col.Kind {
	case model.KindNumber:
		return "FLOAT"
	case model.KindBoolean:
		return "BIT"
	case model.KindDate:
		return "DATETIME2"
	case model.KindObjectID, model.KindRelation:
		return "NVARCHAR(64)"
	}
	if key {
		return "NVARCHAR(64)"
	}
	if col.IsUnique {
		return "NVARCHAR(450)"
	}
	return "NVARCHAR(MAX)"
}
