package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/pairdb/ledger-node/internal/config"
	"github.com/devrev/pairdb/ledger-node/internal/handler"
	"github.com/devrev/pairdb/ledger-node/internal/health"
	"github.com/devrev/pairdb/ledger-node/internal/kv"
	"github.com/devrev/pairdb/ledger-node/internal/metrics"
	"github.com/devrev/pairdb/ledger-node/internal/server"
	"github.com/devrev/pairdb/ledger-node/internal/service"
	"github.com/devrev/pairdb/ledger-node/internal/storage/diskmanager"
	"github.com/devrev/pairdb/ledger-node/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger = logger.With(zap.String("node_id", cfg.Server.NodeID))
	logger.Info("Configuration loaded",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("db_path", cfg.Storage.DBPath()))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	env, err := kv.Open(&kv.Config{
		Path:            cfg.Storage.DBPath(),
		OpenTimeout:     cfg.Storage.OpenTimeout,
		InitialMmapSize: cfg.Storage.InitialMmapSize,
		NoSync:          cfg.Storage.NoSync,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open ledger store", zap.Error(err))
	}
	defer func() {
		if err := env.Close(); err != nil {
			logger.Error("Failed to close ledger store", zap.Error(err))
		}
	}()

	diskMgr, err := diskmanager.NewDiskManager(&diskmanager.DiskManagerConfig{
		DataDir:                 cfg.Storage.DataDir,
		CheckInterval:           cfg.Disk.CheckInterval,
		WarningThreshold:        cfg.Disk.WarningThreshold,
		ThrottleThreshold:       cfg.Disk.ThrottleThreshold,
		CircuitBreakerThreshold: cfg.Disk.CircuitBreakerThreshold,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize disk manager", zap.Error(err))
	}

	var (
		reg      *prometheus.Registry
		gatherer prometheus.Gatherer
		m        *metrics.Metrics
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewMetrics(cfg.Server.NodeID, reg)
		gatherer = reg
	}

	chainSvc := service.NewSourceChainService(
		&service.SourceChainConfig{
			MaxCommitRetries:     cfg.Chain.MaxCommitRetries,
			MaxHeaderAddressSize: cfg.Chain.MaxHeaderAddressSize,
		},
		env,
		diskMgr,
		m,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if stats, err := chainSvc.Stats(ctx); err != nil {
		logger.Fatal("Failed to read source chain", zap.Error(err))
	} else {
		logger.Info("Source chain opened",
			zap.Uint32("length", stats.Length),
			zap.String("head", string(stats.Head)),
			zap.Int("pending_replication", stats.PendingReplication))
	}

	var replicationSvc *service.ReplicationService
	if cfg.Replication.Enabled {
		pool := workerpool.NewWorkerPool(&workerpool.Config{
			Name:       "replication",
			MaxWorkers: cfg.Replication.Workers,
			QueueSize:  cfg.Replication.QueueSize,
			Logger:     logger,
		})
		replicationSvc = service.NewReplicationService(
			&service.ReplicationConfig{
				Interval:     cfg.Replication.Interval,
				BatchSize:    cfg.Replication.BatchSize,
				PublishRate:  cfg.Replication.PublishRate,
				PublishBurst: cfg.Replication.PublishBurst,
				StopTimeout:  cfg.Server.ShutdownTimeout,
			},
			env,
			service.NewLogPublisher(logger),
			pool,
			m,
			logger,
		)
		chainSvc.AddListener(replicationSvc)
		replicationSvc.Start()
	}

	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:   cfg.Server.NodeID,
		DataDir:  cfg.Storage.DataDir,
		Interval: cfg.Disk.CheckInterval,
		Disk:     diskMgr,
		Env:      env,
	}, logger)
	go checker.Start(ctx)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	adminSrv := server.NewAdminServer(
		&server.AdminServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			MetricsPath:  metricsPath,
		},
		checker,
		handler.NewChainHandler(chainSvc, logger),
		gatherer,
		m,
		diskMgr,
		logger,
	)
	if err := adminSrv.Start(); err != nil {
		logger.Fatal("Failed to start admin server", zap.Error(err))
	}

	logger.Info("Ledger node started", zap.String("address", adminSrv.Addr()))

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("Shutting down gracefully...", zap.String("signal", sig.String()))
	checker.SetReadiness(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to stop admin server", zap.Error(err))
	}
	if replicationSvc != nil {
		if err := replicationSvc.Stop(); err != nil {
			logger.Error("Failed to stop replication", zap.Error(err))
		}
	}
	cancel()

	logger.Info("Ledger node stopped")
}

// initLogger initializes the zap logger
func initLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
