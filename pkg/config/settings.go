package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Database          DbSettings       `mapstructure:"database"`
	Queue             QueueSettings    `mapstructure:"queue"`
	DeadLetter        BrokerSettings   `mapstructure:"dead_letter"`
	Gateway           GatewaySettings  `mapstructure:"gateway"`
	Schedule          ScheduleSettings `mapstructure:"schedule"`
	PollInterval      time.Duration    `mapstructure:"poll_interval"`
	BatchSize         int              `mapstructure:"batch_size" validate:"min=1"`
	MaxAttempts       int              `mapstructure:"max_attempts" validate:"min=1"`
	RetryBackoff      time.Duration    `mapstructure:"retry_backoff"` // initial backoff duration
	WorkerConcurrency int              `mapstructure:"worker_concurrency" validate:"min=1"`
	Observability     Observability    `mapstructure:"observability"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("worker")
	v.AddConfigPath(filePath) // path to config
	v.AddConfigPath(".")      // current directory

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment-specific overlay (worker.development.yaml etc).
	if err := mergeConfig(v, filePath, "worker."+env); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to merge %s config: %w", env, err)
		}
	}

	bindEnv(v)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.max_delay", 15*time.Minute)
	v.SetDefault("queue.visibility_timeout", time.Minute)
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("schedule.morning_hour", 9)
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("batch_size", 10)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("retry_backoff", 30*time.Second)
	v.SetDefault("worker_concurrency", 4)
}

func bindEnv(v *viper.Viper) {
	v.AutomaticEnv()
	v.SetEnvPrefix("DEFERRED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like DEFERRED_DATABASE_TYPE

	// Bind environment variables explicitly to ensure they map correctly
	v.BindEnv("database.type")
	v.BindEnv("database.dsn")
	v.BindEnv("database.uri")
	v.BindEnv("database.db_name")
	v.BindEnv("database.collection")
	v.BindEnv("queue.type")
	v.BindEnv("queue.url")
	v.BindEnv("queue.name")
	v.BindEnv("queue.max_delay")
	v.BindEnv("queue.visibility_timeout")
	v.BindEnv("dead_letter.type")
	v.BindEnv("dead_letter.url")
	v.BindEnv("dead_letter.exchange")
	v.BindEnv("dead_letter.topic")
	v.BindEnv("dead_letter.project_id")
	v.BindEnv("gateway.url")
	v.BindEnv("gateway.api_key")
	v.BindEnv("gateway.timeout")
	v.BindEnv("schedule.morning_hour")
	v.BindEnv("schedule.timezone")
	v.BindEnv("poll_interval")
	v.BindEnv("batch_size")
	v.BindEnv("max_attempts")
	v.BindEnv("retry_backoff")
	v.BindEnv("worker_concurrency")
	v.BindEnv("observability.service_name")
	v.BindEnv("observability.tracing_url")
}

func mergeConfig(v *viper.Viper, path string, name string) error {
	v.SetConfigName(name)
	v.AddConfigPath(path)
	return v.MergeInConfig()
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
