package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zoff-tech/go-deferred/pkg/config"
	"github.com/zoff-tech/go-deferred/pkg/queue"
	"github.com/zoff-tech/go-deferred/pkg/schedule"
	"github.com/zoff-tech/go-deferred/pkg/scheduler"
	"github.com/zoff-tech/go-deferred/pkg/tracking"
)

// schedule-message is a small operational tool for submitting a message to the
// delivery pipeline from the command line. Production callers embed
// scheduler.Service directly; this binary exists for smoke tests and manual
// backfills.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "schedule-message").Logger()

	recipient := flag.String("recipient", "", "recipient address (E.164)")
	body := flag.String("body", "", "message body")
	preference := flag.String("when", "", `timing preference, e.g. "2 hours" or "tomorrow morning"`)
	reference := flag.String("reference", "", "caller reference stored on the tracking entry")
	configPath := flag.String("config", "./cmd/delivery-worker", "directory containing worker.yaml")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading configuration")
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Schedule.Timezone).Msg("invalid timezone")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := tracking.NewStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracking store")
	}
	defer store.Close(ctx)

	delayQueue, err := queue.NewDelayQueue(cfg.Queue)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize delay queue")
	}
	defer delayQueue.Close()

	resolver := schedule.NewResolver(cfg.Schedule.MorningHour, logger)
	svc := scheduler.NewService(resolver, store, delayQueue, loc, logger)

	id, err := svc.Schedule(ctx, scheduler.Request{
		Recipient:        *recipient,
		Body:             *body,
		TimingPreference: *preference,
		CallerReference:  *reference,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to schedule message")
		os.Exit(1)
	}

	entry, err := svc.Status(ctx, id)
	if err != nil {
		logger.Fatal().Err(err).Str("message_id", id).Msg("failed to read back tracking entry")
	}

	logger.Info().
		Str("message_id", id).
		Time("target_delivery_time", entry.TargetDeliveryTime).
		Msg("message scheduled")
}
