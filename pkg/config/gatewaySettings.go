package config

import "time"

// GatewaySettings holds configuration for the external send gateway.
type GatewaySettings struct {
	URL    string `mapstructure:"url" validate:"required,url"`
	APIKey string `mapstructure:"api_key"`
	// Timeout bounds a single send call; a timeout counts as a transient
	// failure.
	Timeout time.Duration `mapstructure:"timeout"`
}
