package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/closet-scraper/internal/api"
	"github.com/maltedev/closet-scraper/internal/config"
	"github.com/maltedev/closet-scraper/internal/database"
	"github.com/maltedev/closet-scraper/internal/jobs"
	"github.com/maltedev/closet-scraper/internal/metrics"
	"github.com/maltedev/closet-scraper/internal/queue"
	"github.com/maltedev/closet-scraper/internal/storage"
	"github.com/maltedev/closet-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logger.NewWithOptions(logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		File:    cfg.Logging.File,
		Service: "closet-scraper-api",
	})
	slog.SetDefault(logger)

	selectors, err := config.LoadSelectors(cfg.Scraper.SelectorsFile)
	if err != nil {
		logger.Error("failed to load selectors", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	links, err := storage.NewLinkStorage(cfg.Output.StorageFile)
	if err != nil {
		logger.Error("failed to open link storage", "error", err)
		os.Exit(1)
	}
	opts := []jobs.RunnerOption{jobs.WithMetrics(m), jobs.WithCheckpoint(links)}

	var (
		listings api.ListingReader
		outbox   api.OutboxStats
	)

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		if cfg.Output.Format == config.FormatPostgres {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		logger.Warn("running without database", "error", err)
	} else {
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		repo := database.NewListingRepository(db, cfg.Redis.Stream)
		opts = append(opts, jobs.WithRunStore(repo))
		listings = repo

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, outbox events stay pending", "error", err)
		} else {
			relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, logger, database.RelayConfig{
				PollInterval: 5 * time.Second,
				BatchSize:    100,
			})
			outbox = relay
			go func() {
				if err := relay.Start(ctx); err != nil && err != context.Canceled {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	runner := jobs.NewRunner(cfg, selectors, jobs.PlaywrightFactory(cfg, logger), logger, opts...)

	runQueue := queue.NewInMemoryQueue(cfg.Server.QueueSize)
	manager := jobs.NewManager(runQueue, runner, logger)
	go manager.StartWorker(ctx)

	handlers := api.NewHandlers(manager, listings, outbox, logger)
	router := api.NewRouter(handlers, m.Handler(), cfg.Server.WriteTimeout)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()
		_ = runQueue.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
