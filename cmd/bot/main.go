package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/notifybot/internal/api"
	"github.com/user/notifybot/internal/config"
	"github.com/user/notifybot/internal/linking"
	"github.com/user/notifybot/internal/maintenance"
	"github.com/user/notifybot/internal/notifier"
	"github.com/user/notifybot/internal/queue"
	"github.com/user/notifybot/internal/storage"
	"github.com/user/notifybot/internal/telegram"
	"github.com/user/notifybot/pkg/logger"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Try to initialize basic logger for error output
		logger.Init("debug", "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Msg("Starting notification bot")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	linkStore := storage.NewLinkStore(db)
	queueStore := storage.NewQueueStore(db)
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	// Linking service and notification producer
	linker := linking.NewService(linkStore, cfg.Link.MaxTTL(), cfg.Link.IssuePerMinute, cfg.Link.TokenAttempts)
	producer := queue.NewProducer(queueStore)

	// Initialize Telegram bot
	bot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.Debug, linker, linkStore)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}

	// Queue workers share nothing but the store; delivery goes through the
	// notifier collaborator.
	deliver := notifier.NewNotifier(bot.GetAPI(), linkStore)
	workerOpts := queue.WorkerOptions{
		BatchSize:    cfg.Queue.BatchSize,
		PollInterval: cfg.Queue.PollInterval(),
		MaxBackoff:   cfg.Queue.MaxBackoff(),
		StoreRetries: cfg.Queue.StoreRetries,
	}
	hostname, _ := os.Hostname()
	workers := make([]*queue.Worker, 0, cfg.Queue.Workers)
	for i := 0; i < cfg.Queue.Workers; i++ {
		consumerID := fmt.Sprintf("%s-worker-%d", hostname, i)
		consumer := queue.NewConsumer(queueStore, consumerID, cfg.Queue.Lease())
		workers = append(workers, queue.NewWorker(consumer, deliver, workerOpts))
	}
	for _, w := range workers {
		w.Start()
	}
	logger.Info().Int("workers", cfg.Queue.Workers).Msg("Queue workers started")

	// Retention pruning
	janitor := maintenance.NewJanitor(queueStore, cfg.Queue.Retention())
	if err := janitor.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start janitor")
	}

	// HTTP API for application collaborators
	apiServer := api.NewServer(linker, producer, linkStore, cfg.Link.DefaultTTL())
	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: apiServer.Router(),
	}

	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start Telegram bot
	bot.Start()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	janitor.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	bot.Stop()

	logger.Info().Msg("Shutdown complete")
}
