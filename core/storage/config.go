package storage

import (
	"strings"
	"time"
)

// Config holds configuration for the storage provider.
type Config struct {
	// Endpoint is the host:port of the S3-compatible service. An https://
	// scheme enables TLS.
	Endpoint string `mapstructure:"endpoint" default:"localhost:9000"`
	// AccessKey is the access key ID for authentication.
	AccessKey string `mapstructure:"access_key" default:"minioadmin"`
	// SecretKey is the secret access key for authentication.
	SecretKey string `mapstructure:"secret_key" default:"minioadmin"`
	// UseSSL indicates whether to use SSL/TLS for connections.
	UseSSL bool `mapstructure:"use_ssl" default:"false"`
	// Bucket is the bucket holding CSV inputs and exports.
	Bucket string `mapstructure:"bucket" default:"pgmerge"`
	// Prefix is the object key prefix (folder) inside the bucket.
	Prefix string `mapstructure:"prefix" default:""`
	// Region is the location of the bucket (e.g., us-east-1).
	Region string `mapstructure:"region" default:""`
	// TimeoutSeconds bounds connection setup and the wait for a response.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
}

// endpoint returns the endpoint without scheme and whether TLS is used.
func (c Config) endpoint() (string, bool) {
	switch {
	case strings.HasPrefix(c.Endpoint, "https://"):
		return strings.TrimPrefix(c.Endpoint, "https://"), true
	case strings.HasPrefix(c.Endpoint, "http://"):
		return strings.TrimPrefix(c.Endpoint, "http://"), c.UseSSL
	}
	return c.Endpoint, c.UseSSL
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
