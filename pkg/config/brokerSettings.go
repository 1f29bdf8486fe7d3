package config

// BrokerSettings holds configuration for the dead-letter publisher.
type BrokerSettings struct {
	Type      string `mapstructure:"type" validate:"required,oneof=rabbitmq gcp-pubsub"`
	URL       string `mapstructure:"url"`
	Exchange  string `mapstructure:"exchange"`
	Topic     string `mapstructure:"topic" validate:"required"`
	ProjectID string `mapstructure:"project_id"` // Optional for brokers like GCP Pub/Sub
}
