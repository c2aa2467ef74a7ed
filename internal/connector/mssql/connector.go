package mssql

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/query"
)

// MSSQLConnector implements connector.Connector for SQL Server databases.
type MSSQLConnector struct {
	connector.Base
	db         *sqlx.DB
	schemaName string
}

// New creates a new MSSQLConnector with default settings.
func New() connector.Connector {
	c := &MSSQLConnector{schemaName: "dbo"}
	c.Base = connector.Base{
		SQL:    query.SQLServer,
		Table:  c.qualified,
		Append: appendExpr,
	}
	return c
}

// Connect establishes a connection to the SQL Server database using the
// provided configuration. It configures connection pool settings and stores
// the schema name tables are created in.
func (c *MSSQLConnector) Connect(ctx context.Context, cfg connector.ConnectionConfig) error {
	db, err := sqlx.ConnectContext(ctx, "sqlserver", connector.SanitizeDSN("mssql", cfg.DSN))
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MSSQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("mssql: not connected")
	}
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQL Server.
func (c *MSSQLConnector) DriverName() string { return "mssql" }

func (c *MSSQLConnector) qualified(table string) string {
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}

// appendExpr appends with JSON_MODIFY. Scalars are bound as-is so the
// driver picks the JSON type; objects and arrays go through JSON_QUERY so
// they are not stored as escaped strings.
func appendExpr(expr, ph string, elem any) (string, any, error) {
	switch elem.(type) {
	case string, bool, float64, float32, int, int32, int64:
		return fmt.Sprintf("JSON_MODIFY(COALESCE(%s, '[]'), 'append $', %s)", expr, ph), elem, nil
	}
	raw, err := connector.MarshalElement(elem)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("JSON_MODIFY(COALESCE(%s, '[]'), 'append $', JSON_QUERY(%s))", expr, ph), raw, nil
}
