package deadletter

import (
	"context"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/zoff-tech/go-deferred/pkg/config"
)

// PubSubPublisherCreator defines a function type for creating Pub/Sub publishers.
type PubSubPublisherCreator func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (Publisher, error)

// NewPubSubPublisher is the default implementation of PubSubPublisherCreator.
var NewPubSubPublisher PubSubPublisherCreator = func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (Publisher, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &pubSubPublisher{client: client, topic: settings.Topic}, nil
}

type pubSubPublisher struct {
	client *pubsub.Client
	topic  string
}

func (p *pubSubPublisher) Publish(ctx context.Context, payload []byte, headers map[string]string) error {
	tracer := otel.Tracer("go-deferred")
	ctx, span := tracer.Start(ctx, "PublishDeadLetter",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.topic),
		),
	)
	defer span.End()

	// Inject the trace context into the message attributes
	propagator := otel.GetTextMapPropagator()
	attributes := make(map[string]string)
	propagator.Inject(ctx, propagation.MapCarrier(attributes))

	for key, value := range headers {
		attributes[key] = value
	}

	res := p.client.Topic(p.topic).Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})
	if _, err := res.Get(ctx); err != nil { // wait for server ack
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)

	return nil
}

func (p *pubSubPublisher) Close() error {
	return p.client.Close()
}
