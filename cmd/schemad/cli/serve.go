package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/schemad/internal/bus"
	"github.com/faucetdb/schemad/internal/config"
	"github.com/faucetdb/schemad/internal/metric"
	"github.com/faucetdb/schemad/internal/schemasync"
	"github.com/faucetdb/schemad/internal/server"
	"github.com/faucetdb/schemad/internal/service"
)

const banner = `
          _                               _
 ___  ___| |__   ___ _ __ ___   __ _  __| |
/ __|/ __| '_ \ / _ \ '_ ` + "`" + ` _ \ / _` + "`" + ` |/ _` + "`" + ` |
\__ \ (__| | | |  __/ | | | | | (_| | (_| |
|___/\___|_| |_|\___|_| |_| |_|\__,_|\__,_|
`

const devSecret = "schemad-dev-secret-change-me"

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the schemad API server",
		Long: `Connect to the configured database, recover every declared schema, join the
schema bus and serve the database operations over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, trusted module header, dev JWT secret)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr, dev)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Connect the database and recover declared schemas
	metrics := metric.New()
	inst, err := openAdapter(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("start database adapter: %w", err)
	}
	defer inst.Close(context.Background())
	logger.Info("database adapter started",
		"type", cfg.Database.Type,
		"driver", cfg.Database.Driver,
		"schemas", len(inst.adapter.GetSchemas()))

	// 2. Join the bus
	b, err := bus.Open(ctx, bus.Config{Type: cfg.Bus.Type, URL: cfg.Bus.URL, Name: "schemad"}, logger)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer b.Close(context.Background())

	// 3. Start schema synchronization
	window, err := config.ParseDuration(cfg.Sync.Window, schemasync.DefaultWindow)
	if err != nil {
		return err
	}
	syncOpts := schemasync.Options{
		Topic:   cfg.Bus.Topic,
		Window:  window,
		Logger:  logger,
		Metrics: metrics,
	}
	if inst.store != nil {
		if id, err := inst.store.InstanceID(ctx); err == nil {
			syncOpts.InstanceID = id
		} else {
			logger.Warn("failed to load instance id, using a random one", "error", err)
		}
	}
	syncer := schemasync.New(inst.adapter, b, syncOpts)
	if err := syncer.Start(ctx); err != nil {
		return fmt.Errorf("start schema sync: %w", err)
	}
	defer syncer.Stop()
	logger.Info("schema sync started", "instance_id", syncer.InstanceID(), "bus", cfg.Bus.Type, "topic", cfg.Bus.Topic)

	// 4. Services
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		if !dev {
			return errNoSecret
		}
		jwtSecret = devSecret
		logger.Warn("using the development JWT secret")
	}
	authSvc := service.NewAuthService(jwtSecret)
	db := service.NewDatabaseService(inst.adapter, service.DatabaseOptions{
		Sync:    syncer,
		Events:  b,
		Logger:  logger,
		Metrics: metrics,
	})

	// 5. Build and start HTTP server
	bodyLimit, err := cfg.Server.BodyLimit()
	if err != nil {
		return err
	}
	shutdown, err := config.ParseDuration(cfg.Server.ShutdownTimeout, server.DefaultConfig().ShutdownTimeout)
	if err != nil {
		return err
	}
	srvCfg := server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ShutdownTimeout:   shutdown,
		CORSOrigins:       cfg.Server.CORS.Origins,
		MaxBodySize:       bodyLimit,
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		TrustModuleHeader: cfg.Auth.TrustedHeader || dev,
	}
	srv := server.New(srvCfg, server.Deps{
		Database: db,
		Auth:     authSvc,
		Sync:     syncer,
		Metrics:  metrics,
	}, logger)

	fmt.Printf("→ schemad %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Operations: http://%s:%d/api/v1/database/{operation}\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", srvCfg.Host, srvCfg.Port)
	fmt.Println()

	return srv.ListenAndServe(ctx)
}
