package config

import "time"

// QueueSettings holds configuration for the delay queue primitive.
type QueueSettings struct {
	Type string `mapstructure:"type" validate:"required,oneof=rabbitmq memory"`
	URL  string `mapstructure:"url"`
	// Name prefixes the wait/ready/dead-letter queue names so several
	// deployments can share one broker.
	Name string `mapstructure:"name"`
	// MaxDelay is the largest delay a single enqueue call may carry.
	// Longer waits are achieved by delay chaining.
	MaxDelay time.Duration `mapstructure:"max_delay" validate:"required"`
	// VisibilityTimeout is how long a dequeued envelope stays hidden from
	// other consumers before it is redelivered.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}
