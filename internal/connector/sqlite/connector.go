package sqlite

import (
	"context"
	"database/sql/driver"
	"fmt"
	"regexp"
	"sync"

	"github.com/jmoiron/sqlx"
	sqlitedriver "modernc.org/sqlite"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/query"
)

// SQLiteConnector implements connector.Connector for SQLite databases.
type SQLiteConnector struct {
	connector.Base
	db *sqlx.DB
}

// New creates a new SQLiteConnector.
func New() connector.Connector {
	c := &SQLiteConnector{}
	c.Base = connector.Base{
		SQL:    query.SQLite,
		Table:  query.SQLite.Quote,
		Append: appendExpr,
	}
	return c
}

var (
	regexpOnce  sync.Once
	regexpCache sync.Map // pattern -> *regexp.Regexp
)

// registerRegexp backs the REGEXP operator with Go's regexp package. SQLite
// evaluates "X REGEXP Y" as regexp(Y, X).
func registerRegexp() {
	regexpOnce.Do(func() {
		sqlitedriver.MustRegisterDeterministicScalarFunction("regexp", 2,
			func(_ *sqlitedriver.FunctionContext, args []driver.Value) (driver.Value, error) {
				pattern, ok := args[0].(string)
				if !ok {
					return nil, fmt.Errorf("regexp: pattern must be text")
				}
				var subject string
				switch v := args[1].(type) {
				case nil:
					return int64(0), nil
				case string:
					subject = v
				case []byte:
					subject = string(v)
				default:
					subject = fmt.Sprint(v)
				}
				re, err := compileCached(pattern)
				if err != nil {
					return nil, err
				}
				if re.MatchString(subject) {
					return int64(1), nil
				}
				return int64(0), nil
			})
	})
}

func compileCached(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexpCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexpCache.Store(pattern, re)
	return re, nil
}

// Connect opens the SQLite database file specified in the DSN. The DSN is a
// file path (e.g., "/path/to/db.sqlite") or ":memory:". Query parameters
// like ?_pragma=journal_mode(WAL) are passed through to the driver.
func (c *SQLiteConnector) Connect(ctx context.Context, cfg connector.ConnectionConfig) error {
	registerRegexp()

	db, err := sqlx.ConnectContext(ctx, "sqlite", cfg.DSN)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}

	// An in-memory database lives in a single connection.
	if cfg.DSN == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 && cfg.DSN != ":memory:" {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 && cfg.DSN != ":memory:" {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	c.db = db
	return nil
}

// Disconnect closes the database connection.
func (c *SQLiteConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("sqlite: not connected")
	}
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQLite.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

// appendExpr appends one element with json_insert. Elements are bound as
// JSON text and parsed back with json() so objects stay objects.
func appendExpr(expr, ph string, elem any) (string, any, error) {
	raw, err := connector.MarshalElement(elem)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("json_insert(COALESCE(%s, '[]'), '$[#]', json(%s))", expr, ph), raw, nil
}
