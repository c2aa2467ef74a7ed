package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/schemad/internal/model"
)

// YAMLConfig represents the top-level schemad configuration file.
type YAMLConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Bus         BusConfig         `yaml:"bus"`
	Sync        SyncConfig        `yaml:"sync"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	SchemaStore SchemaStoreConfig `yaml:"schema_store"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	MaxBodySize     string          `yaml:"max_body_size"`
	ShutdownTimeout string          `yaml:"shutdown_timeout"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// RateLimitConfig limits requests per calling module. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DatabaseConfig selects and configures the backend.
type DatabaseConfig struct {
	// Type is "sql" or "mongodb".
	Type string `yaml:"type"`
	// Driver picks the relational dialect when Type is "sql".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Database is the MongoDB database name, or the relational schema
	// tables are created in.
	Database        string          `yaml:"database"`
	ConnectAttempts int             `yaml:"connect_attempts"`
	ConnectDelay    string          `yaml:"connect_delay"`
	Pool            *PoolYAMLConfig `yaml:"pool,omitempty"`
}

// PoolYAMLConfig controls the relational connection pool.
type PoolYAMLConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `yaml:"conn_max_idle_time"`
}

// BusConfig selects the publish/subscribe transport used for schema sync.
type BusConfig struct {
	// Type is "nats", "redis" or "memory".
	Type  string `yaml:"type"`
	URL   string `yaml:"url"`
	Topic string `yaml:"topic"`
}

// SyncConfig controls the schema synchronizer.
type SyncConfig struct {
	Window string `yaml:"window"`
}

// AuthConfig controls how calling modules are identified.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	TokenExpiry string `yaml:"token_expiry"`
	// TrustedHeader accepts X-Module-Name without a token. Only for
	// deployments behind an authenticating proxy.
	TrustedHeader bool `yaml:"trusted_header"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchemaStoreConfig selects where schema declarations are persisted:
// "backend" keeps them next to the data, "local" in a SQLite file.
type SchemaStoreConfig struct {
	Type    string `yaml:"type"`
	DataDir string `yaml:"data_dir"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Keys absent from the file keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     "10MB",
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST"},
			},
		},
		Database: DatabaseConfig{
			Type:            "sql",
			Driver:          "sqlite",
			DSN:             "schemad.db",
			ConnectAttempts: 10,
			ConnectDelay:    "500ms",
		},
		Bus: BusConfig{
			Type:  "memory",
			Topic: "database",
		},
		Sync: SyncConfig{
			Window: "3s",
		},
		Auth: AuthConfig{
			TokenExpiry: "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		SchemaStore: SchemaStoreConfig{
			Type: "backend",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks enumerated values and parses every duration and size so
// mistakes surface at startup.
func (c *YAMLConfig) Validate() error {
	switch c.Database.Type {
	case "sql", "mongodb":
	default:
		return fmt.Errorf("database.type must be sql or mongodb, got %q", c.Database.Type)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Bus.Type {
	case "nats", "redis", "memory":
	default:
		return fmt.Errorf("bus.type must be nats, redis or memory, got %q", c.Bus.Type)
	}
	switch c.SchemaStore.Type {
	case "backend", "local":
	default:
		return fmt.Errorf("schema_store.type must be backend or local, got %q", c.SchemaStore.Type)
	}
	for key, v := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"database.connect_delay":  c.Database.ConnectDelay,
		"sync.window":             c.Sync.Window,
		"auth.token_expiry":       c.Auth.TokenExpiry,
	} {
		if _, err := ParseDuration(v, 0); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if _, err := c.Server.BodyLimit(); err != nil {
		return err
	}
	return nil
}

// BodyLimit returns max_body_size in bytes ("10MB", "512KiB", ...).
func (s ServerConfig) BodyLimit() (int64, error) {
	if s.MaxBodySize == "" {
		return 10 * 1024 * 1024, nil
	}
	n, err := humanize.ParseBytes(s.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("server.max_body_size: %w", err)
	}
	return int64(n), nil
}

// PoolConfig returns the pool settings, falling back to the defaults for
// anything left unset.
func (d DatabaseConfig) PoolConfig() model.PoolConfig {
	pool := model.DefaultPoolConfig()
	if d.Pool == nil {
		return pool
	}
	if d.Pool.MaxOpenConns > 0 {
		pool.MaxOpenConns = d.Pool.MaxOpenConns
	}
	if d.Pool.MaxIdleConns > 0 {
		pool.MaxIdleConns = d.Pool.MaxIdleConns
	}
	if v, err := ParseDuration(d.Pool.ConnMaxLifetime, 0); err == nil && v > 0 {
		pool.ConnMaxLifetime = v
	}
	if v, err := ParseDuration(d.Pool.ConnMaxIdleTime, 0); err == nil && v > 0 {
		pool.ConnMaxIdleTime = v
	}
	return pool
}

// ParseDuration parses s, returning def for an empty string.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// ApplyLegacyEnv honours the DB_TYPE and DB_CONN_URI variables older
// deployments set. DB_TYPE is "sql" or "mongodb"; for sql the driver is
// inferred from the URI scheme.
func (c *YAMLConfig) ApplyLegacyEnv(getenv func(string) string) {
	if t := getenv("DB_TYPE"); t != "" {
		c.Database.Type = t
	}
	if uri := getenv("DB_CONN_URI"); uri != "" {
		c.Database.DSN = uri
		if c.Database.Type == "sql" {
			if driver := DriverFromDSN(uri); driver != "" {
				c.Database.Driver = driver
			}
			if c.Database.Driver == "sqlite" {
				if _, path, ok := strings.Cut(uri, "://"); ok {
					c.Database.DSN = path
				}
			}
		}
	}
}

// DriverFromDSN maps a connection URI scheme to a relational driver name,
// or "" when the scheme is not recognised.
func DriverFromDSN(dsn string) string {
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		if strings.HasPrefix(dsn, "file:") || strings.HasSuffix(dsn, ".db") || dsn == ":memory:" {
			return "sqlite"
		}
		return ""
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlserver", "mssql":
		return "mssql"
	case "sqlite", "sqlite3":
		return "sqlite"
	}
	return ""
}
