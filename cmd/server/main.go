package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/challenge-ladder/internal/auth"
	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/handler"
	"github.com/challenge-ladder/internal/kafka"
	"github.com/challenge-ladder/internal/memory"
	"github.com/challenge-ladder/internal/metrics"
	"github.com/challenge-ladder/internal/postgres"
	"github.com/challenge-ladder/internal/redis"
	"github.com/challenge-ladder/internal/service"
	"github.com/challenge-ladder/internal/websocket"
	"github.com/challenge-ladder/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Auth.Secret == "" {
		logger.Error("auth.secret is required to issue and validate tokens")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var readinessChecks []handler.Option

	// Storage: PostgreSQL when enabled, otherwise an in-process ladder
	var store service.Store
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()

		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		store = repo
		readinessChecks = append(readinessChecks, handler.WithReadinessCheck("postgres", repo.Ping))
	} else {
		logger.Warn("postgres disabled, ladder state is kept in memory")
		store = memory.New()
	}

	collector := metrics.NewCollector()

	// WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	opts := []service.Option{
		service.WithPublisher(wsHub),
		service.WithMetrics(collector),
	}

	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		client, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		cache := redis.NewStandingsCache(client, logger)
		defer cache.Close()
		opts = append(opts, service.WithStandingsCache(cache))
		readinessChecks = append(readinessChecks, handler.WithReadinessCheck("redis", cache.Ping))
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(&cfg.Kafka)
		if err != nil {
			logger.Warn("failed to create Kafka producer, events stay local", "error", err)
		} else {
			events := kafka.NewEventPublisher(producer, cfg.Kafka.EventsTopic, logger)
			defer events.Close()
			opts = append(opts, service.WithPublisher(events))
		}
	}

	ladderService, err := service.NewLadderService(store, &cfg.Challenge, &cfg.Ladder, logger, opts...)
	if err != nil {
		logger.Error("invalid challenge rules", "error", err)
		os.Exit(1)
	}

	// Verify ranks and rebuild the standings cache on startup
	syncWorker := worker.NewSyncWorker(ladderService, &cfg.Sync, logger)
	result := syncWorker.RunOnce(ctx)
	if len(result.Anomalies) > 0 {
		logger.Warn("ladder has rank anomalies", "count", len(result.Anomalies))
	}
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Kafka consumer for externally reported match results
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.ResultsTopic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, ladderService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			_ = kafkaConsumer.Stop()
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	tokens := auth.NewProvider(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	httpOpts := append([]handler.Option{handler.WithMetricsHandler(collector.Handler())}, readinessChecks...)
	httpHandler := handler.NewHandler(ladderService, tokens, wsHub, logger, httpOpts...)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before the collaborators go away
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	wsHub.Stop()

	logger.Info("server stopped")
}

// loadConfig reads the configuration file. Only a missing file falls back to
// environment-only configuration; a file that fails to parse or validate is fatal.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	logger.Warn("config file not found, using environment", "path", path)
	return config.FromEnv()
}
