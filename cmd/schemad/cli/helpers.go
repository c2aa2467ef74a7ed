package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/adapter/document"
	"github.com/faucetdb/schemad/internal/adapter/relational"
	"github.com/faucetdb/schemad/internal/config"
	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/connector/mssql"
	"github.com/faucetdb/schemad/internal/connector/mysql"
	"github.com/faucetdb/schemad/internal/connector/postgres"
	"github.com/faucetdb/schemad/internal/connector/sqlite"
	"github.com/faucetdb/schemad/internal/metric"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

var busTypes = []string{"memory", "nats", "redis"}

// resolveDataDir returns the data directory from --data-dir flag,
// SCHEMAD_DATA_DIR env var, the config file, or ~/.schemad as fallback.
func resolveDataDir(cfg *config.YAMLConfig) string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("SCHEMAD_DATA_DIR"); envDir != "" {
		return envDir
	}
	if cfg != nil && cfg.SchemaStore.DataDir != "" {
		return cfg.SchemaStore.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".schemad")
}

// loadConfig reads the config file viper located (if any) over the
// defaults, then applies SCHEMAD_* and legacy DB_* environment overrides.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	for key, dst := range map[string]*string{
		"server.host":            &cfg.Server.Host,
		"server.max_body_size":   &cfg.Server.MaxBodySize,
		"database.type":          &cfg.Database.Type,
		"database.driver":        &cfg.Database.Driver,
		"database.dsn":           &cfg.Database.DSN,
		"database.database":      &cfg.Database.Database,
		"database.connect_delay": &cfg.Database.ConnectDelay,
		"bus.type":               &cfg.Bus.Type,
		"bus.url":                &cfg.Bus.URL,
		"bus.topic":              &cfg.Bus.Topic,
		"sync.window":            &cfg.Sync.Window,
		"auth.jwt_secret":        &cfg.Auth.JWTSecret,
		"auth.token_expiry":      &cfg.Auth.TokenExpiry,
		"logging.level":          &cfg.Logging.Level,
		"logging.format":         &cfg.Logging.Format,
		"schema_store.type":      &cfg.SchemaStore.Type,
	} {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if port := viper.GetInt("server.port"); port != 0 {
		cfg.Server.Port = port
	}
	if viper.IsSet("auth.trusted_header") {
		cfg.Auth.TrustedHeader = viper.GetBool("auth.trusted_header")
	}
	if n := viper.GetInt("server.rate_limit.requests_per_minute"); n > 0 {
		cfg.Server.RateLimit.RequestsPerMinute = n
	}
	cfg.ApplyLegacyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section. dev forces
// debug level.
func newLogger(cfg config.LoggingConfig, w io.Writer, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newRegistry creates a connector registry with all supported SQL drivers registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("postgres", postgres.New)
	registry.RegisterDriver("mysql", mysql.New)
	registry.RegisterDriver("mssql", mssql.New)
	registry.RegisterDriver("sqlite", sqlite.New)
	return registry
}

// newBackend builds the adapter backend the database section describes.
func newBackend(cfg config.DatabaseConfig, logger *slog.Logger) (adapter.Backend, error) {
	switch cfg.Type {
	case "mongodb":
		return document.New(cfg.DSN, cfg.Database, logger), nil
	case "sql":
		registry := newRegistry()
		if !registry.HasDriver(cfg.Driver) {
			return nil, fmt.Errorf("unsupported SQL driver %q (supported: %s)",
				cfg.Driver, strings.Join(registry.Drivers(), ", "))
		}
		pool := cfg.PoolConfig()
		return relational.New(registry, connector.ConnectionConfig{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    pool.MaxOpenConns,
			MaxIdleConns:    pool.MaxIdleConns,
			ConnMaxLifetime: pool.ConnMaxLifetime,
			ConnMaxIdleTime: pool.ConnMaxIdleTime,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// instance is an adapter opened from configuration together with the
// local store, when one is in use.
type instance struct {
	adapter *adapter.Adapter
	store   *config.Store
}

func (i *instance) Close(ctx context.Context) {
	i.adapter.Close(ctx)
	if i.store != nil {
		i.store.Close()
	}
}

// openAdapter connects the configured backend, retrying within the
// configured budget, and recovers every declared schema.
func openAdapter(ctx context.Context, cfg *config.YAMLConfig, logger *slog.Logger, metrics *metric.Metrics) (*instance, error) {
	backend, err := newBackend(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	delay, err := config.ParseDuration(cfg.Database.ConnectDelay, 0)
	if err != nil {
		return nil, err
	}

	inst := &instance{}
	opts := adapter.Options{
		Logger:  logger,
		Metrics: metrics,
		Retry:   adapter.RetryConfig{Attempts: cfg.Database.ConnectAttempts, Delay: delay},
	}
	if cfg.SchemaStore.Type == "local" {
		dir := resolveDataDir(cfg)
		store, err := config.NewStore(dir)
		if err != nil {
			return nil, fmt.Errorf("open local schema store: %w", err)
		}
		logger.Info("local schema store opened", "path", dir)
		inst.store = store
		opts.Store = store
	}

	inst.adapter = adapter.New(backend, opts)
	if err := inst.adapter.Start(ctx); err != nil {
		if inst.store != nil {
			inst.store.Close()
		}
		return nil, err
	}
	return inst, nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

var errNoSecret = errors.New("auth.jwt_secret is not set (use SCHEMAD_AUTH_JWT_SECRET or the config file)")
