package postgres

import (
	"context"
	"fmt"
)

// TableColumns returns the column names of tableName in ordinal order.
// A missing table yields an empty slice.
func (c *PostgresConnector) TableColumns(ctx context.Context, tableName string) ([]string, error) {
	const q = `
		SELECT c.column_name
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	var names []string
	if err := c.db.SelectContext(ctx, &names, q, c.schemaName, tableName); err != nil {
		return nil, fmt.Errorf("columns of %q: %w", tableName, err)
	}
	return names, nil
}
