package postgres

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/query"
)

// PostgresConnector implements connector.Connector for PostgreSQL databases.
type PostgresConnector struct {
	connector.Base
	db         *sqlx.DB
	schemaName string
}

// New creates a new PostgresConnector with default settings.
func New() connector.Connector {
	c := &PostgresConnector{schemaName: "public"}
	c.Base = connector.Base{
		SQL:    query.Postgres,
		Table:  c.qualified,
		Append: appendExpr,
	}
	return c
}

// Connect establishes a connection to the PostgreSQL database using the
// provided configuration. It configures connection pool settings and stores
// the schema name tables are created in.
func (c *PostgresConnector) Connect(ctx context.Context, cfg connector.ConnectionConfig) error {
	db, err := sqlx.ConnectContext(ctx, "pgx", connector.SanitizeDSN("postgres", cfg.DSN))
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
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
func (c *PostgresConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("postgres: not connected")
	}
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for PostgreSQL.
func (c *PostgresConnector) DriverName() string { return "postgres" }

func (c *PostgresConnector) qualified(table string) string {
	return c.QuoteIdentifier(c.schemaName) + "." + c.QuoteIdentifier(table)
}

// appendExpr concatenates a one-element jsonb array onto expr.
func appendExpr(expr, ph string, elem any) (string, any, error) {
	raw, err := connector.MarshalElement(elem)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("COALESCE(%s, '[]'::jsonb) || jsonb_build_array(%s::jsonb)", expr, ph), raw, nil
}
