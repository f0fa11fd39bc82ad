package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/parley/internal/assets"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/gateway"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/presence"
	"github.com/haasonsaas/parley/internal/realtime"
	"github.com/haasonsaas/parley/internal/storage"
)

// runServe wires every component and blocks until a shutdown signal.
func runServe(ctx context.Context, configPath string, explicit, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}

	logCfg := observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
	if debug {
		logCfg.Level = "debug"
	}
	logger := observability.NewLogger(logCfg)
	slog.SetDefault(logger)

	logger.Info("starting parley",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	tracer, shutdownTracer := observability.NewTracer(traceConfig(cfg))
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	stores, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer stores.Close()
	if stores.Persistent() {
		if err := applyMigrations(ctx, stores, logger); err != nil {
			return err
		}
	}

	presenceStore, err := openPresenceStore(ctx, cfg.Presence, logger)
	if err != nil {
		return err
	}
	defer presenceStore.Close()
	registry := presence.NewRegistry(presenceStore, presence.Options{
		KeyPrefix: cfg.Presence.KeyPrefix,
		Timeout:   cfg.Presence.StoreTimeout,
		Logger:    logger,
		Metrics:   metrics,
	})

	uploader, err := assets.NewUploader(ctx, cfg.Assets)
	if err != nil {
		return fmt.Errorf("failed to initialize assets: %w", err)
	}
	spool, err := assets.NewSpool(uploader, assets.SpoolOptions{
		Dir:           cfg.Assets.SpoolDir,
		Workers:       cfg.Assets.Workers,
		QueueSize:     cfg.Assets.QueueSize,
		SweepSchedule: cfg.Assets.SweepSchedule,
		SweepMaxAge:   cfg.Assets.SweepMaxAge,
		Backend:       cfg.Assets.Backend,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize upload spool: %w", err)
	}

	hub := gateway.NewHub(metrics)
	service, err := realtime.New(realtime.Options{
		Presence:     registry,
		Stores:       stores,
		Emitter:      hub,
		Spool:        spool,
		OfferTimeout: cfg.Calls.OfferTimeout,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize realtime service: %w", err)
	}
	if err := spool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start upload spool: %w", err)
	}

	var files http.Handler
	if local, ok := uploader.(*assets.LocalUploader); ok {
		files = local.Handler()
	}
	server, err := gateway.NewServer(gateway.Options{
		Config:  cfg.Server,
		Service: service,
		Hub:     hub,
		Files:   files,
		Ready:   stores.Ping,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("parley started",
		"http_addr", server.Addr(),
		"database", cfg.Database.Driver,
		"presence", cfg.Presence.Backend,
		"assets", cfg.Assets.Backend,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown error", "error", err)
	}
	if err := spool.Stop(shutdownCtx); err != nil {
		logger.Warn("upload spool shutdown error", "error", err)
	}

	logger.Info("parley stopped gracefully")
	return nil
}

func traceConfig(cfg *config.Config) observability.TraceConfig {
	tracing := cfg.Observability.Tracing
	tc := observability.TraceConfig{
		ServiceName:    tracing.ServiceName,
		ServiceVersion: version,
		Environment:    tracing.Environment,
		SamplingRate:   tracing.SamplingRate,
		EnableInsecure: tracing.Insecure,
	}
	if tracing.Enabled {
		tc.Endpoint = tracing.Endpoint
	}
	return tc
}

func openPresenceStore(ctx context.Context, cfg config.PresenceConfig, logger *slog.Logger) (presence.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return presence.NewMemoryStore(), nil
	case "redis":
		store, err := presence.NewRedisStore(ctx, presence.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect presence store: %w", err)
		}
		return store, nil
	case "nats":
		store, err := presence.NewNATSStore(presence.NATSConfig{
			URL:    cfg.NATS.URL,
			Bucket: cfg.NATS.Bucket,
			TTL:    cfg.NATS.TTL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect presence store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported presence backend %q", cfg.Backend)
	}
}

func applyMigrations(ctx context.Context, stores storage.StoreSet, logger *slog.Logger) error {
	migrator, err := stores.Migrator()
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, id := range applied {
		logger.Info("applied migration", "id", id)
	}
	return nil
}
