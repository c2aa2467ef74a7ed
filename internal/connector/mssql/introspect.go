package mssql

import (
	"context"
	"fmt"
)

// TableColumns returns the column names of tableName in ordinal order.
// A missing table yields an empty slice.
func (c *MSSQLConnector) TableColumns(ctx context.Context, tableName string) ([]string, error) {
	const q = `
		SELECT c.COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION`

	var names []string
	if err := c.db.SelectContext(ctx, &names, q, c.schemaName, tableName); err != nil {
		return nil, fmt.Errorf("columns of %q: %w", tableName, err)
	}
	return names, nil
}
