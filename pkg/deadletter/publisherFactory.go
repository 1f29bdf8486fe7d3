package deadletter

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/zoff-tech/go-deferred/pkg/config"
)

// NewPublisher builds the dead-letter publisher selected by the configuration.
func NewPublisher(ctx context.Context, cfg *config.BrokerSettings) (Publisher, error) {
	switch cfg.Type {
	case "rabbitmq":
		conn, err := amqp.Dial(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to open channel: %w", err)
		}
		routingKey := cfg.Topic
		if cfg.Exchange != "" {
			err = ch.ExchangeDeclare(
				cfg.Exchange, // name
				"topic",      // type
				true,         // durable
				false,        // auto-deleted
				false,        // internal
				false,        // no-wait
				nil,          // arguments
			)
		} else {
			// Default exchange: the topic is the queue name.
			_, err = ch.QueueDeclare(cfg.Topic, true, false, false, false, nil)
		}
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &rabbitMqPublisher{connection: conn, channel: ch, exchange: cfg.Exchange, routingKey: routingKey}, nil
	case "gcp-pubsub":
		return NewPubSubPublisher(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}
