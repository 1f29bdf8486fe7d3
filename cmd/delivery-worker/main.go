package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zoff-tech/go-deferred/pkg/config"
	"github.com/zoff-tech/go-deferred/pkg/deadletter"
	"github.com/zoff-tech/go-deferred/pkg/gateway"
	"github.com/zoff-tech/go-deferred/pkg/queue"
	"github.com/zoff-tech/go-deferred/pkg/telemetry"
	"github.com/zoff-tech/go-deferred/pkg/tracking"
	"github.com/zoff-tech/go-deferred/pkg/worker"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "delivery-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/delivery-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading configuration")
	}

	// Initialize telemetry (tracing)
	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer shutdownTelemetry() // Ensure telemetry is properly shut down on exit

	// Initialize the tracking store
	store, err := tracking.NewStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracking store")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("failed to close tracking store")
		}
	}()

	// Initialize the delay queue
	delayQueue, err := queue.NewDelayQueue(cfg.Queue)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize delay queue")
	}
	defer delayQueue.Close()

	// Initialize the dead-letter publisher
	dead, err := deadletter.NewPublisher(ctx, &cfg.DeadLetter)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize dead-letter publisher")
	}
	defer dead.Close()

	gw := gateway.NewHTTPGateway(cfg.Gateway)

	w, err := worker.NewDeliveryWorker(delayQueue, store, gw, dead, worker.Config{
		BatchSize:      cfg.BatchSize,
		PollInterval:   cfg.PollInterval,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBackoff:   cfg.RetryBackoff,
		Concurrency:    cfg.WorkerConcurrency,
		GatewayTimeout: cfg.Gateway.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create delivery worker")
	}

	logger.Info().
		Str("queue", cfg.Queue.Type).
		Str("database", cfg.Database.Type).
		Dur("max_delay", cfg.Queue.MaxDelay).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("delivery worker starting")

	// Run the worker (blocks until the context is canceled)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("delivery worker stopped")
	}
	logger.Info().Msg("delivery worker stopped")
}
