package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trapline/visits-platform/internal/api"
	"github.com/trapline/visits-platform/internal/ingest"
	"github.com/trapline/visits-platform/internal/names"
	"github.com/trapline/visits-platform/internal/taxonomy"
	"github.com/trapline/visits-platform/internal/visits"
	"github.com/trapline/visits-platform/pkg/config"
	"github.com/trapline/visits-platform/pkg/health"
	"github.com/trapline/visits-platform/pkg/mqtt"
	"github.com/trapline/visits-platform/pkg/postgres"
	rediskit "github.com/trapline/visits-platform/pkg/redis"
)

func main() {
	cfg := config.NewConfig()
	cfg.LoadFromEnv()
	cfg.LoadFromFlags()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting visits API",
		"service", cfg.ServiceName,
		"taxonomy", cfg.TaxonomyPath,
		"port", cfg.APIPort)

	// The resolver cannot operate without the taxonomy; a load failure
	// is fatal to the process, not a per-request condition.
	tree, err := taxonomy.LoadFile(cfg.TaxonomyPath)
	if err != nil {
		logger.Error("Failed to load taxonomy", "error", err)
		os.Exit(1)
	}
	index := taxonomy.NewIndex(tree)

	pgClient := postgres.NewClient(cfg, logger)
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pgClient.Connect(connectCtx); err != nil {
		logger.Error("Failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgClient.Disconnect()

	// Redis and MQTT are cache plumbing; the query path degrades
	// gracefully without them.
	var cache rediskit.Client
	redisClient := rediskit.NewClient(cfg, logger)
	if err := redisClient.Ping(connectCtx); err != nil {
		logger.Warn("Redis unavailable, caching disabled", "error", err)
	} else {
		cache = redisClient
		defer redisClient.Close()
	}

	store := visits.NewStorage(pgClient, logger)
	nameCache := names.NewCache(pgClient, cache, cfg, logger)

	mqttClient := mqtt.NewClient(cfg, logger)
	if err := mqttClient.Connect(connectCtx); err != nil {
		logger.Warn("MQTT unavailable, ingest events disabled", "error", err)
	} else if cache != nil {
		listener := ingest.NewListener(mqttClient, cache, nameCache, logger)
		if err := listener.Start(); err != nil {
			logger.Warn("Failed to start ingest listener", "error", err)
		}
		defer mqttClient.Disconnect()
	}

	service := visits.NewService(store, nameCache, cache, index, cfg, logger)
	checker := health.NewChecker(pgClient, cache, mqttClient, logger)

	server := api.NewServer(service, checker, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "error", err)
		}
	}
}

func logLevel(level string) slog.Level {
	switch level {
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
