package mysql

import (
	"context"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/query"
)

// MySQLConnector implements connector.Connector for MySQL databases.
type MySQLConnector struct {
	connector.Base
	db         *sqlx.DB
	schemaName string
}

// New creates a new MySQLConnector with default settings.
func New() connector.Connector {
	c := &MySQLConnector{}
	c.Base = connector.Base{
		SQL:    query.MySQL,
		Table:  query.MySQL.Quote,
		Append: appendExpr,
	}
	return c
}

// Connect establishes a connection to the MySQL database using the provided
// configuration. DATETIME columns are always scanned as time.Time, so
// parseTime is forced on regardless of the DSN.
func (c *MySQLConnector) Connect(ctx context.Context, cfg connector.ConnectionConfig) error {
	dsn := connector.SanitizeDSN("mysql", cfg.DSN)
	if parsed, err := mysqldriver.ParseDSN(dsn); err == nil {
		parsed.ParseTime = true
		dsn = parsed.FormatDSN()
	}

	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
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

	// If no schema name provided, query the current database name
	if c.schemaName == "" {
		var dbName string
		if err := db.GetContext(ctx, &dbName, "SELECT DATABASE()"); err == nil && dbName != "" {
			c.schemaName = dbName
		}
	}

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MySQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("mysql: not connected")
	}
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

func appendExpr(expr, ph string, elem any) (string, any, error) {
	raw, err := connector.MarshalElement(elem)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("JSON_ARRAY_APPEND(COALESCE(%s, JSON_ARRAY()), '$', CAST(%s AS JSON))", expr, ph), raw, nil
}
