package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runthrough-pairing/internal/config"
	"github.com/runthrough-pairing/internal/handler"
	"github.com/runthrough-pairing/internal/kafka"
	"github.com/runthrough-pairing/internal/pairing"
	"github.com/runthrough-pairing/internal/postgres"
	"github.com/runthrough-pairing/internal/redis"
	"github.com/runthrough-pairing/internal/service"
	"github.com/runthrough-pairing/internal/storage"
	"github.com/runthrough-pairing/internal/websocket"
	"github.com/runthrough-pairing/internal/worker"
)

const kafkaStartTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	defaults, err := cfg.Pairing.Settings()
	if err != nil {
		logger.Error("invalid pairing defaults", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	store, err := redis.NewTournamentStore(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("connected to Redis")

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	opts := service.Options{
		Defaults:     defaults,
		Broadcaster:  wsHub,
		ExportPrefix: cfg.Export.KeyPrefix,
	}

	// The archive is optional; tournaments then live in Redis only
	var syncWorker *worker.SyncWorker
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
		opts.Archive = repo

		syncWorker = worker.NewSyncWorker(store, repo, &cfg.Sync, logger)
		if cfg.Sync.RestoreOnStart {
			logger.Info("restoring tournaments from the archive")
			if err := syncWorker.SyncAllFromDatabase(ctx); err != nil {
				logger.Warn("failed to restore tournaments on startup", "error", err)
			}
		}
		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	if cfg.Export.Enabled {
		uploader, err := storage.NewR2Uploader(ctx, &cfg.Export)
		if err != nil {
			logger.Warn("failed to configure standings export, publishing disabled", "error", err)
		} else {
			opts.Uploader = uploader
			logger.Info("standings export enabled", "bucket", cfg.Export.BucketName)
		}
	}

	tournamentService := service.NewTournamentService(store, pairing.NewService(), opts, logger)

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		consumer, err := kafka.NewConsumer(&cfg.Kafka, tournamentService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			startCtx, startCancel := context.WithTimeout(ctx, kafkaStartTimeout)
			if err := consumer.Start(startCtx); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				if err := consumer.Stop(); err != nil {
					logger.Warn("failed to stop Kafka consumer", "error", err)
				}
			} else {
				kafkaConsumer = consumer
				logger.Info("Kafka consumer started")
			}
			startCancel()
		}
	}

	httpHandler := handler.NewHandler(tournamentService, wsHub, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stopping the worker archives the final state
	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	logger.Info("server stopped")
}
