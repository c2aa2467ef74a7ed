package sqlite

import (
	"context"
	"fmt"
)

// TableColumns returns the column names of tableName in declaration order.
// A missing table yields an empty slice.
func (c *SQLiteConnector) TableColumns(ctx context.Context, tableName string) ([]string, error) {
	var cols []struct {
		CID       int     `db:"cid"`
		Name      string  `db:"name"`
		Type      string  `db:"type"`
		NotNull   int     `db:"notnull"`
		DfltValue *string `db:"dflt_value"`
		PK        int     `db:"pk"`
	}
	// PRAGMA does not accept bound parameters; the name is quoted instead.
	q := fmt.Sprintf("PRAGMA table_info(%s)", c.QuoteIdentifier(tableName))
	if err := c.db.SelectContext(ctx, &cols, q); err != nil {
		return nil, fmt.Errorf("table info %q: %w", tableName, err)
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names, nil
}
