// QueryGate server — accepts natural-language questions over HTTP, routes
// them through the synthesis and validation pipeline, and executes approved
// SQL against the configured backends.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/querygate/querygate/pkg/api"
	"github.com/querygate/querygate/pkg/cache"
	"github.com/querygate/querygate/pkg/checkpoint"
	"github.com/querygate/querygate/pkg/config"
	"github.com/querygate/querygate/pkg/events"
	"github.com/querygate/querygate/pkg/executor"
	"github.com/querygate/querygate/pkg/kv"
	"github.com/querygate/querygate/pkg/llm"
	"github.com/querygate/querygate/pkg/models"
	"github.com/querygate/querygate/pkg/orchestrator"
	"github.com/querygate/querygate/pkg/router"
	"github.com/querygate/querygate/pkg/schema"
	"github.com/querygate/querygate/pkg/skills"
	"github.com/querygate/querygate/pkg/sqlsafe"
	"github.com/querygate/querygate/pkg/synth"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(getEnv("LOG_LEVEL", "info")),
	}))
	slog.SetDefault(logger)

	httpAddr := ":" + getEnv("HTTP_PORT", "8080")
	slog.Info("Starting QueryGate", "addr", httpAddr, "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. KV store. Dev mode with no address gets an embedded Redis so the
	// gateway starts with zero infrastructure.
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" && cfg.DevMode {
		mr, err := miniredis.Run()
		if err != nil {
			slog.Error("Failed to start embedded redis", "error", err)
			os.Exit(1)
		}
		defer mr.Close()
		redisAddr = mr.Addr()
		slog.Info("Using embedded redis", "addr", redisAddr)
	}
	if redisAddr == "" {
		slog.Error("REDIS_ADDR is required outside dev mode")
		os.Exit(1)
	}
	store, err := kv.NewRedisStore(ctx, redisAddr, os.Getenv("REDIS_PASSWORD"), 0)
	if err != nil {
		slog.Error("Failed to connect to redis", "addr", redisAddr, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing redis client", "error", err)
		}
	}()

	fingerprints := cache.NewFingerprintCache(store, cfg.Cache.FingerprintTTL)
	results := cache.NewResultCache(store, cfg.Cache)

	// 3. LLM provider
	provider, err := newProvider(cfg)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}

	// 4. Backends. Each configured connection contributes an executor
	// driver and a schema fetcher; the checkpoint store rides on the
	// Postgres pool when one exists.
	fetchers := map[models.DatabaseKind]schema.Fetcher{}
	facade := executor.NewFacade(cfg, results, logger)
	defer facade.Close()
	connections := []api.ConnectionInfo{}

	var checkpoints checkpoint.Store

	if url := os.Getenv("POSTGRES_URL"); url != "" {
		poolCfg, err := pgxpool.ParseConfig(url)
		if err != nil {
			slog.Error("Invalid POSTGRES_URL", "error", err)
			os.Exit(1)
		}
		poolCfg.MinConns = int32(cfg.Pool.Min)
		poolCfg.MaxConns = int32(cfg.Pool.Max)
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			slog.Error("Failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		driver := executor.NewPostgresDriverFromPool(pool)
		facade.Register(models.DatabasePostgres, []executor.Driver{driver}, nil)
		fetchers[models.DatabasePostgres] = schema.NewPostgresFetcher(pool, os.Getenv("POSTGRES_SCHEMA"))
		connections = append(connections, api.ConnectionInfo{
			Name: "postgres", DatabaseType: string(models.DatabasePostgres), Healthy: true,
		})

		checkpoints, err = checkpoint.NewPostgresStore(ctx, pool, cfg.CheckpointTTL)
		if err != nil {
			slog.Error("Failed to initialize checkpoint store", "error", err)
			os.Exit(1)
		}
		slog.Info("Postgres backend registered")
	}
	if checkpoints == nil {
		// Suspended tickets will not survive a restart.
		checkpoints = checkpoint.NewMemoryStore()
		slog.Warn("No postgres backend, using in-memory checkpoints")
	}

	if dsn := os.Getenv("DORIS_DSN"); dsn != "" {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			slog.Error("Invalid DORIS_DSN", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Pool.Max)
		db.SetMaxIdleConns(cfg.Pool.Min)
		defer db.Close()

		facade.Register(models.DatabaseDoris, []executor.Driver{executor.NewDorisDriverFromDB(db)}, nil)
		fetchers[models.DatabaseDoris] = schema.NewDorisFetcher(db)
		connections = append(connections, api.ConnectionInfo{
			Name: "doris", DatabaseType: string(models.DatabaseDoris), Healthy: true,
		})
		slog.Info("Doris backend registered")
	}

	if workerCmd := os.Getenv("ORACLE_WORKER_CMD"); workerCmd != "" {
		parts := strings.Fields(workerCmd)
		drivers := make([]executor.Driver, 0, cfg.Pool.Max)
		var fetcher schema.Fetcher
		for i := 0; i < cfg.Pool.Max; i++ {
			d, err := executor.NewOracleDriver(parts[0], parts[1:]...)
			if err != nil {
				slog.Error("Failed to start oracle worker", "error", err)
				os.Exit(1)
			}
			if fetcher == nil {
				fetcher = d
			}
			drivers = append(drivers, d)
		}
		facade.Register(models.DatabaseOracle, drivers, nil)
		fetchers[models.DatabaseOracle] = fetcher
		connections = append(connections, api.ConnectionInfo{
			Name: "oracle", DatabaseType: string(models.DatabaseOracle), Healthy: true,
		})
		slog.Info("Oracle backend registered", "workers", len(drivers))
	}

	// 5. Pipeline services
	schemas := schema.NewService(store, fetchers, cfg.Cache.SchemaTTL, cfg.Cache.SampleTTL, cfg.Timeouts.SchemaFetch)
	rt := router.New(provider, cfg.LLM.RouterFallback)
	eng := skills.NewEngine()
	synthesizer := synth.NewSynthesizer(provider, fingerprints, sqlsafe.NewHeuristicEstimator(), nil, nil, cfg, logger)
	validator := sqlsafe.NewValidator(cfg, store, sqlsafe.NewHeuristicEstimator(), sqlsafe.NewNoopRLS(), nil, logger)

	// 6. Orchestrator and HTTP boundary
	bus := events.NewBus(logger)
	orc := orchestrator.New(cfg, rt, eng, schemas, synthesizer, validator, facade, bus, checkpoints, logger)
	server := api.NewServer(cfg, orc, bus, connections, nil, logger)

	slog.Info("QueryGate ready", "backends", len(connections), "dev_mode", cfg.DevMode)
	if err := server.Start(ctx, httpAddr); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

// newProvider builds the configured LLM provider. The fake provider exists
// for offline smoke runs.
func newProvider(cfg *config.Config) (llm.Provider, error) {
	if cfg.LLM.Provider == "fake" {
		return llm.NewFakeProvider("-- ERROR: no provider configured"), nil
	}
	return llm.NewClient(cfg.LLM.Model, os.Getenv(cfg.LLM.APIKeyEnv), cfg.LLM.BaseURL, cfg.Timeouts.LLM)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
