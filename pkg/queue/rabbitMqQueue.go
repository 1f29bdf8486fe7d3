package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-deferred/pkg/config"
	"github.com/zoff-tech/go-deferred/pkg/message"
)

// RabbitMqQueue implements DelayQueue with the per-message-TTL pattern:
// delayed envelopes are published to a wait queue whose dead-letter routing
// points at the ready queue, so an envelope becomes consumable when its TTL
// expires. Consumption uses basic.get with manual acks; the unacked window
// is the visibility lease.
//
// TTL expiry is checked at the head of the wait queue, so a shorter delay
// behind a longer one waits for the longer one. Chained hops all carry the
// same bounded delay, which keeps the wait queue close to FIFO in practice.
type RabbitMqQueue struct {
	connection *amqp.Connection
	mu         sync.Mutex
	channel    *amqp.Channel
	readyQueue string
	waitQueue  string
	maxDelay   time.Duration
}

func NewRabbitMqQueue(cfg config.QueueSettings) (*RabbitMqQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "deferred"
	}
	q := &RabbitMqQueue{
		connection: conn,
		channel:    ch,
		readyQueue: name + ".ready",
		waitQueue:  name + ".wait",
		maxDelay:   cfg.MaxDelay,
	}

	if err := q.declareTopology(); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMqQueue) declareTopology() error {
	// QueueDeclare is idempotent and has no effect if the queue is already
	// in place.
	if _, err := q.channel.QueueDeclare(q.readyQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare ready queue: %w", err)
	}
	_, err := q.channel.QueueDeclare(q.waitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.readyQueue,
	})
	if err != nil {
		return fmt.Errorf("failed to declare wait queue: %w", err)
	}
	return nil
}

func (q *RabbitMqQueue) MaxDelay() time.Duration {
	return q.maxDelay
}

func (q *RabbitMqQueue) Enqueue(ctx context.Context, env message.Envelope, delay time.Duration) error {
	tracer := otel.Tracer("go-deferred")
	_, span := tracer.Start(ctx, "Enqueue",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKindKey.String("queue"),
			attribute.String("message.id", env.MessageID),
			attribute.Float64("queue.delay_seconds", delay.Seconds()),
		),
	)
	defer span.End()

	if delay > q.maxDelay {
		span.RecordError(ErrDelayTooLong)
		return ErrDelayTooLong
	}
	if delay < 0 {
		delay = 0
	}

	body, err := env.Marshal()
	if err != nil {
		span.RecordError(err)
		return err
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.MessageID,
		Body:         body,
	}
	// Immediate envelopes jump the broker's priority order, mirroring the
	// high-priority flag on as-soon-as-possible sends.
	if delay == 0 {
		publishing.Priority = 9
	}

	target := q.readyQueue
	if delay > 0 {
		target = q.waitQueue
		publishing.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.channel.Publish("", target, false, false, publishing); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (q *RabbitMqQueue) Dequeue(ctx context.Context, max int) ([]*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deliveries []*Delivery
	for len(deliveries) < max {
		msg, ok, err := q.channel.Get(q.readyQueue, false)
		if err != nil {
			return deliveries, fmt.Errorf("failed to get from ready queue: %w", err)
		}
		if !ok {
			break
		}

		env, err := message.UnmarshalEnvelope(msg.Body)
		if err != nil {
			// A malformed body can never become processable; drop it.
			_ = q.channel.Reject(msg.DeliveryTag, false)
			continue
		}

		tag := msg.DeliveryTag
		deliveries = append(deliveries, &Delivery{
			Envelope: env,
			ack: func() error {
				q.mu.Lock()
				defer q.mu.Unlock()
				return q.channel.Ack(tag, false)
			},
			release: func() error {
				q.mu.Lock()
				defer q.mu.Unlock()
				return q.channel.Nack(tag, false, true)
			},
		})
	}
	return deliveries, nil
}

func (q *RabbitMqQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.channel.Close(); err != nil {
		q.connection.Close()
		return err
	}
	return q.connection.Close()
}
