package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/devrev/otree/internal/catalog"
	"github.com/devrev/otree/internal/config"
	"github.com/devrev/otree/internal/datafile"
	"github.com/devrev/otree/internal/diskmanager"
	"github.com/devrev/otree/internal/handler"
	"github.com/devrev/otree/internal/health"
	"github.com/devrev/otree/internal/metrics"
	"github.com/devrev/otree/internal/server"
	"github.com/devrev/otree/internal/service"
	"github.com/devrev/otree/internal/snapshot"
	"github.com/devrev/otree/internal/store"
	"github.com/devrev/otree/internal/txlog"
	"github.com/devrev/otree/internal/util/workerpool"
	"github.com/devrev/otree/internal/validation"
)

// healthProbeTable is looked up on every health round to prove the log answers
const healthProbeTable = "_otree_health"

func main() {
	configPath := os.Getenv("OTREE_CONFIG")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("log_backend", cfg.Log.Backend),
		zap.String("idempotency_backend", cfg.Idempotency.Backend),
		zap.String("data_dir", cfg.Data.Dir))

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	txLog, err := openLog(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open transaction log", zap.Error(err))
	}
	defer txLog.Close()

	idempotency := openIdempotency(cfg, logger)
	if idempotency != nil {
		defer idempotency.Close()
	}

	data, err := datafile.NewStore(cfg.Data.Dir, logger.Named("datafile"))
	if err != nil {
		logger.Fatal("Failed to open data file store", zap.Error(err))
	}

	loader, err := snapshot.NewLoader(txLog, cfg.Cache.SnapshotEntries, m, logger.Named("snapshot"))
	if err != nil {
		logger.Fatal("Failed to create snapshot loader", zap.Error(err))
	}

	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "data-writer",
		MaxWorkers: cfg.Index.WriteWorkers,
		QueueSize:  cfg.Index.WriteWorkers * 4,
		Logger:     logger,
	})

	tableSvc := service.NewTableService(service.Config{
		DefaultCubeSize: cfg.Index.DefaultCubeSize,
		Partitions:      cfg.Index.Partitions,
		CommitRetries:   cfg.Index.CommitRetries,
		TableSeed:       cfg.Index.TableSeed,
		IdempotencyTTL:  cfg.Idempotency.TTL,
	}, txLog, loader, data, idempotency, pool, m, logger.Named("service"))

	disk, err := diskmanager.NewDiskManager(diskmanager.DefaultConfig(cfg.Data.Dir), logger.Named("disk"))
	if err != nil {
		logger.Fatal("Failed to create disk manager", zap.Error(err))
	}
	tableSvc.WithSpaceChecker(disk)

	tables := handler.NewTableHandler(
		tableSvc,
		catalog.NewResolver(cfg.Data.Dir, validation.NewValidator()),
		handler.Config{MaxBodyBytes: cfg.Server.MaxBodyBytes, AutoExpand: cfg.Index.AutoExpand},
		logger.Named("handler"),
	)

	// gRPC health service for orchestrators that probe over gRPC
	grpcServer := grpc.NewServer()
	grpcHealth := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)

	deps := []health.Dependency{{
		Name:     "txlog",
		Critical: true,
		Probe: func(ctx context.Context) error {
			_, err := txLog.Exists(ctx, healthProbeTable)
			return err
		},
	}}
	if idempotency != nil {
		deps = append(deps, health.Dependency{Name: "idempotency", Probe: idempotency.Ping})
	}
	checker := health.NewHealthChecker(health.HealthCheckConfig{
		DataDir:      cfg.Data.Dir,
		Dependencies: deps,
		GRPC:         grpcHealth,
	}, logger.Named("health"))
	go checker.Start(ctx)

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = reg
	}
	httpServer := server.NewServer(cfg, tables, checker, gatherer, m, logger.Named("http"))

	healthAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HealthPort))
	listener, err := net.Listen("tcp", healthAddr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("address", healthAddr), zap.Error(err))
	}
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Start()
	}()

	logger.Info("OTree service started",
		zap.Int("port", cfg.Server.Port),
		zap.String("health_address", healthAddr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully...", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()
	cancel()

	if err := pool.Stop(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("Worker pool did not drain", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// openLog opens the configured transaction log backend
func openLog(ctx context.Context, cfg *config.Config, logger *zap.Logger) (txlog.Log, error) {
	logger = logger.Named("txlog")
	switch cfg.Log.Backend {
	case config.LogBackendMemory:
		logger.Warn("Using in-memory transaction log; commits are lost on restart")
		return txlog.NewMemoryLog(), nil
	case config.LogBackendFile:
		return txlog.NewFileLog(&txlog.FileLogConfig{
			RootDir:    cfg.Log.Dir,
			SyncWrites: cfg.Log.SyncWrites,
		}, logger)
	case config.LogBackendBadger:
		return txlog.NewBadgerLog(&txlog.BadgerLogConfig{
			Path:       cfg.Log.Dir,
			SyncWrites: cfg.Log.SyncWrites,
		}, logger)
	case config.LogBackendPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return txlog.NewPostgresLog(connectCtx, &txlog.PostgresLogConfig{
			DSN:      cfg.Log.PostgresDSN,
			MaxConns: cfg.Log.MaxConns,
			MinConns: cfg.Log.MinConns,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown log backend %q", cfg.Log.Backend)
	}
}

// openIdempotency returns nil when batch deduplication is disabled
func openIdempotency(cfg *config.Config, logger *zap.Logger) store.IdempotencyStore {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyRedis:
		s := store.NewRedisStore(cfg.Idempotency.RedisAddr, cfg.Idempotency.RedisPassword, cfg.Idempotency.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			logger.Warn("Redis idempotency store unreachable at startup",
				zap.String("addr", cfg.Idempotency.RedisAddr),
				zap.Error(err))
		}
		return s
	case config.IdempotencyMemory:
		return store.NewMemoryStore(cfg.Idempotency.MaxEntries, logger.Named("idempotency"))
	default:
		return nil
	}
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zcfg.Build()
}
