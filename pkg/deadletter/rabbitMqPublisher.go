package deadletter

import (
	"context"
	"sync"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
)

type rabbitMqPublisher struct {
	connection *amqp.Connection
	mu         sync.Mutex
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

func (r *rabbitMqPublisher) Publish(ctx context.Context, payload []byte, headers map[string]string) error {
	tracer := otel.Tracer("go-deferred")
	ctx, span := tracer.Start(ctx, "PublishDeadLetter",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKindKey.String("queue"),
			semconv.MessagingRabbitmqRoutingKeyKey.String(r.routingKey),
		),
	)
	defer span.End()

	// Inject the trace context into the message headers
	propagator := otel.GetTextMapPropagator()
	traceHeaders := make(map[string]string)
	propagator.Inject(ctx, propagation.MapCarrier(traceHeaders))

	amqpHeaders := make(amqp.Table)
	for k, v := range headers {
		amqpHeaders[k] = v
	}
	for k, v := range traceHeaders {
		amqpHeaders[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.channel.Publish(
		r.exchange, r.routingKey, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         payload,
			Headers:      amqpHeaders,
		},
	)
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)

	return nil
}

func (r *rabbitMqPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.channel.Close(); err != nil {
		r.connection.Close()
		return err
	}
	return r.connection.Close()
}
