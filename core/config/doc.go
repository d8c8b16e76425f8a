// Package config provides configuration management for pgmerge.
//
// It utilizes Viper for loading configuration from environment variables and
// an optional .env file, with defaults taken from `default` struct tags.
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings, divided into subsections:
//   - Server: HTTP server settings (port, API key, limits)
//   - Database: driver (postgres, mysql, sqlite), connection and lock timeout
//   - Storage: S3/MinIO credentials, bucket and prefix for CSV files
//   - Log: level, format and optional rotating log file
//   - Merge: strategy, batching, concurrency, retries and identity options
//
// # Job File
//
// A merge run can be described further by a YAML job file (pgmerge.yaml by
// default): the tables taking part, per-table row and column semantics,
// transforms and asserted-unique columns. LoadJobFile reads it.
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	opts, err := cfg.Merge.Options()
package config
