package queue

import (
	"fmt"

	"github.com/zoff-tech/go-deferred/pkg/config"
)

// NewDelayQueue builds the delay queue backend selected by the configuration.
func NewDelayQueue(cfg config.QueueSettings) (DelayQueue, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMqQueue(cfg)
	case "memory":
		return NewMemoryQueue(cfg.MaxDelay, cfg.VisibilityTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Type)
	}
}
