package config

// DbSettings holds configuration for the tracking store backend.
type DbSettings struct {
	Type       string `mapstructure:"type" validate:"required,oneof=postgres spanner mongo memory"`
	DSN        string `mapstructure:"dsn"`        // Postgres connection string
	URI        string `mapstructure:"uri"`        // Spanner database path or Mongo URI
	DBName     string `mapstructure:"db_name"`    // Mongo database name
	Collection string `mapstructure:"collection"` // Mongo collection name
}
