package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-deferred/pkg/message"
	"github.com/zoff-tech/go-deferred/pkg/queue"
	"github.com/zoff-tech/go-deferred/pkg/schedule"
	"github.com/zoff-tech/go-deferred/pkg/tracking"
)

// Request is the enqueue input consumed from the message-composition
// collaborator. Malformed requests are rejected synchronously and never
// queued.
type Request struct {
	Recipient        string `validate:"required,e164"`
	Body             string `validate:"required,max=4096"`
	TimingPreference string `validate:"max=128"`
	CallerReference  string `validate:"max=256"`
}

// Service implements the enqueue operation: it resolves the timing
// preference, records the message in the tracking store, and places the
// first envelope on the delay queue. It returns as soon as the message is
// durably queued; delivery itself is asynchronous.
type Service struct {
	resolver *schedule.Resolver
	store    tracking.Store
	chainer  *queue.Chainer
	location *time.Location
	validate *validator.Validate
	tracer   trace.Tracer
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(resolver *schedule.Resolver, store tracking.Store, q queue.DelayQueue, location *time.Location, logger zerolog.Logger) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{
		resolver: resolver,
		store:    store,
		chainer:  queue.NewChainer(q, logger),
		location: location,
		validate: validator.New(),
		tracer:   otel.Tracer("go-deferred"),
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Schedule validates the request, creates the tracking entry and enqueues
// the first envelope. It returns the assigned message ID; it does not wait
// for delivery.
func (s *Service) Schedule(ctx context.Context, req Request) (string, error) {
	ctx, span := s.tracer.Start(ctx, "ScheduleMessage")
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("invalid schedule request: %w", err)
	}

	now := s.now()
	msg := &message.ScheduledMessage{
		MessageID:          s.newID(),
		Recipient:          req.Recipient,
		Body:               req.Body,
		CreatedAt:          now,
		TargetDeliveryTime: s.resolver.Resolve(req.TimingPreference, now, s.location),
	}
	span.SetAttributes(
		attribute.String("message.id", msg.MessageID),
		attribute.String("message.timing_preference", req.TimingPreference),
		attribute.String("message.target_delivery_time", msg.TargetDeliveryTime.String()),
	)

	entry := &tracking.Entry{
		MessageID:          msg.MessageID,
		Recipient:          msg.Recipient,
		Body:               msg.Body,
		TimingPreference:   req.TimingPreference,
		CallerReference:    req.CallerReference,
		Status:             tracking.StatusQueued,
		TargetDeliveryTime: msg.TargetDeliveryTime,
		CreatedAt:          now,
	}
	if err := s.store.Create(ctx, entry); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to create tracking entry: %w", err)
	}

	if err := s.chainer.Enqueue(ctx, message.NewEnvelope(msg)); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}

	s.logger.Info().
		Str("message_id", msg.MessageID).
		Str("timing_preference", req.TimingPreference).
		Time("target_delivery_time", msg.TargetDeliveryTime).
		Msg("message scheduled")

	return msg.MessageID, nil
}

// Status exposes the tracking record for status queries by collaborators.
func (s *Service) Status(ctx context.Context, messageID string) (*tracking.Entry, error) {
	return s.store.Get(ctx, messageID)
}
