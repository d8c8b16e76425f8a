package server

import (
	"fmt"
	"time"
)

// Config holds configuration for the HTTP server.
type Config struct {
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey is the secret key required to access the API.
	ApiKey string `mapstructure:"api_key" default:""`
	// BodyLimitMB caps uploaded request bodies (CSV payloads).
	BodyLimitMB int `mapstructure:"body_limit_mb" default:"64"`
	// ReadTimeoutSeconds bounds reading a request.
	ReadTimeoutSeconds int `mapstructure:"read_timeout_seconds" default:"60"`
	// SchemaCacheSeconds is how long the introspected schema graph is reused.
	// Zero introspects on every request.
	SchemaCacheSeconds int `mapstructure:"schema_cache_seconds" default:"60"`
}

// Address returns the listen address for the configured port.
func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// BodyLimit returns the body limit in bytes.
func (c Config) BodyLimit() int {
	if c.BodyLimitMB <= 0 {
		return 4 * 1024 * 1024
	}
	return c.BodyLimitMB * 1024 * 1024
}

// ReadTimeout returns the request read timeout.
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// SchemaCacheTTL returns how long a schema graph stays cached.
func (c Config) SchemaCacheTTL() time.Duration {
	return time.Duration(c.SchemaCacheSeconds) * time.Second
}
