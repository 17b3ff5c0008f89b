package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polymarket-watch/cache"
	"polymarket-watch/clients/polymarket"
	"polymarket-watch/config"
	"polymarket-watch/database"
	"polymarket-watch/notifications"

	"go.uber.org/zap"
)

// App wires the five pipeline workers over one shared store. Workers
// never talk to each other directly; coordination happens entirely
// through the database and the durable cursors.
type App struct {
	config *config.Config
	logger *zap.Logger

	db    *database.Database
	redis *cache.RedisClient
	repo  *database.Repository

	ingestion *IngestionWorker
	signals   *SignalWorker
	scoring   *ScoringWorker
	profiler  *ProfilerWorker
	notifier  *NotifierWorker
	backtest  *BacktestWorker
}

// New creates the application instance.
func New(cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		config: cfg,
		logger: logger,
	}
}

// Start connects the backing services, migrates the schema, launches
// every worker, and blocks until an interrupt triggers graceful
// shutdown.
func (a *App) Start() error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("Start: %w", err)
	}

	db, err := database.Connect(
		a.config.DatabaseHost,
		a.config.DatabasePort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("Start: database connection failed: %w", err)
	}
	a.db = db
	a.logger.Info("connected to database", zap.String("host", a.config.DatabaseHost))

	a.repo = database.NewRepository(db)
	if err := a.repo.InitSchema(); err != nil {
		return fmt.Errorf("Start: schema initialization failed: %w", err)
	}

	a.redis = cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword, a.logger)

	client := polymarket.NewClient(
		a.config.Ingestion.MarketsURL,
		a.config.Ingestion.TradesURL,
		time.Duration(a.config.Ingestion.ClientTimeoutSeconds)*time.Second,
		a.logger,
	)

	var stream *polymarket.Stream
	if a.config.Ingestion.WSEnabled {
		stream = polymarket.NewStream(a.config.Ingestion.WSURL, a.logger)
		if err := stream.Connect(context.Background(), nil); err != nil {
			a.logger.Warn("live trade stream unavailable, polling only", zap.Error(err))
			stream = nil
		}
	}

	sender := notifications.NewTelegramSender(
		a.config.Notifier.BotToken,
		a.config.Notifier.ChatID,
		a.config.Notifier.DryRun,
		a.logger,
	)

	a.ingestion = NewIngestionWorker(a.repo, client, stream, a.redis, a.config.Ingestion, a.logger)
	a.signals, err = NewSignalWorker(a.repo, a.config.Signals, a.logger)
	if err != nil {
		return fmt.Errorf("Start: %w", err)
	}
	a.scoring, err = NewScoringWorker(a.repo, a.config.Scoring, a.logger)
	if err != nil {
		return fmt.Errorf("Start: %w", err)
	}
	a.profiler = NewProfilerWorker(a.repo, a.logger)
	a.notifier = NewNotifierWorker(a.repo, sender, a.redis, a.config.Notifier, a.logger)
	a.backtest = NewBacktestWorker(a.repo, a.logger)

	go a.ingestion.Start()
	go a.signals.Start()
	go a.scoring.Start()
	go a.profiler.Start()
	go a.notifier.Start()
	go a.backtest.Start()

	return a.gracefulShutdown()
}

// gracefulShutdown blocks until SIGINT/SIGTERM, then stops every worker
// and closes the backing connections, bounded by a timeout.
func (a *App) gracefulShutdown() error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	a.logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.ingestion.Stop()
		a.signals.Stop()
		a.scoring.Stop()
		a.profiler.Stop()
		a.notifier.Stop()
		a.backtest.Stop()

		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.logger.Warn("database close failed", zap.Error(err))
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn("redis close failed", zap.Error(err))
			}
		}
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		a.logger.Warn("shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}
