package mysql

import (
	"context"
	"fmt"
)

// TableColumns returns the column names of tableName in ordinal order.
// A missing table yields an empty slice.
func (c *MySQLConnector) TableColumns(ctx context.Context, tableName string) ([]string, error) {
	const q = `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	var names []string
	if err := c.db.SelectContext(ctx, &names, q, c.schemaName, tableName); err != nil {
		return nil, fmt.Errorf("columns of %q: %w", tableName, err)
	}
	return names, nil
}
