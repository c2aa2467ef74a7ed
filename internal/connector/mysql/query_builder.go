package mysql

import (
	"context"
	"fmt"
	"strings"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// noLimit is the documented MySQL idiom for "all remaining rows" when only
// an offset is wanted.
const noLimit = "18446744073709551615"

// BuildSelect constructs a SELECT query from the given request.
// It quotes all identifiers with backticks and uses ? parameter placeholders.
func (c *MySQLConnector) BuildSelect(_ context.Context, req connector.SelectRequest) (string, []any, error) {
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
	b.WriteString(c.QuoteIdentifier(req.Table))

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
		fmt.Fprintf(&b, " LIMIT %s OFFSET %d", noLimit, req.Offset)
	}

	return b.String(), args, nil
}

// BuildUpsert constructs an INSERT ... ON DUPLICATE KEY UPDATE statement.
// MySQL resolves the conflict on any unique key; Key only needs a value.
func (c *MySQLConnector) BuildUpsert(_ context.Context, req connector.UpsertRequest) (string, []any, error) {
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
		placeholders[i] = "?"
		args[i] = req.Record[col]
		if col != req.Key {
			q := c.QuoteIdentifier(col)
			sets = append(sets, q+" = VALUES("+q+")")
		}
	}
	if len(sets) == 0 {
		k := c.QuoteIdentifier(req.Key)
		sets = append(sets, k+" = "+k)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		c.QuoteIdentifier(req.Table), quoted, strings.Join(placeholders, ", "), strings.Join(sets, ", "))
	return stmt, args, nil
}

// CreateTable creates the table if it does not exist yet.
func (c *MySQLConnector) CreateTable(ctx context.Context, def model.TableSchema) error {
	if def.Name == "" {
		return fmt.Errorf("table name is required")
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(c.QuoteIdentifier(def.Name))
	b.WriteString(" (\n")

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
	b.WriteString("\n) DEFAULT CHARSET=utf8mb4")

	if _, err := c.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("create table %q: %w", def.Name, err)
	}
	return nil
}

// AlterTable applies additive schema changes. MySQL has no
// ADD COLUMN IF NOT EXISTS, so existing columns are skipped by name.
func (c *MySQLConnector) AlterTable(ctx context.Context, tableName string, changes []connector.SchemaChange) error {
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
		if have[change.Column] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			c.QuoteIdentifier(tableName),
			c.QuoteIdentifier(change.Column),
			columnType(*change.Definition, false),
		)
		if change.Definition.IsUnique {
			stmt += fmt.Sprintf(", ADD UNIQUE INDEX %s (%s)",
				c.QuoteIdentifier(connector.UniqueIndexName(tableName, change.Column)),
				c.QuoteIdentifier(change.Column))
		}
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("alter table %q (%s %s): %w", tableName, change.Type, change.Column, err)
		}
	}
	return nil
}

// DropTable drops a table if it exists.
func (c *MySQLConnector) DropTable(ctx context.Context, tableName string) error {
	if tableName == "" {
		return fmt.Errorf("table name is required")
	}
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", c.QuoteIdentifier(tableName))
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

// columnType maps a column to a MySQL type. TEXT cannot be indexed without a
// prefix length, so keys, references and unique strings get a VARCHAR.
func columnType(col model.Column, key bool) string {
	if col.Type != "" {
		return col.Type
	}
	if col.IsJSON() {
		return "JSON"
	}
	switch col.Kind {
	case model.KindNumber:
		return "DOUBLE"
	case model.KindBoolean:
		return "BOOLEAN"
	case model.KindDate:
		return "DATETIME(6)"
	case model.KindObjectID, model.KindRelation:
		return "VARCHAR(64)"
	}
	if key {
		return "VARCHAR(64)"
	}
	if col.IsUnique {
		return "VARCHAR(255)"
	}
	return "TEXT"
}
