package database

import "time"

// Config holds configuration for the database connection.
type Config struct {
	// Driver is the database driver (postgres, mysql, sqlite).
	Driver string `mapstructure:"driver" default:"postgres"`
	// Host is the database host.
	Host string `mapstructure:"host" default:"localhost"`
	// Port is the database port.
	Port int `mapstructure:"port" default:"5432"`
	// User is the database user.
	User string `mapstructure:"user" default:"postgres"`
	// Password is the database password.
	Password string `mapstructure:"password" default:""`
	// Name is the database name. For sqlite it is the file path or a
	// "file:" URI.
	Name string `mapstructure:"name" default:"postgres"`
	// Schema is the Postgres schema to merge into. MySQL uses Name.
	Schema string `mapstructure:"schema" default:"public"`
	// SSLMode is the Postgres sslmode.
	SSLMode string `mapstructure:"ssl_mode" default:"disable"`
	// TimeoutSeconds bounds connection setup and the initial ping.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
	// LockTimeoutMS is the session lock wait timeout. Statements waiting
	// longer fail with a lock timeout, which the merge engine retries.
	LockTimeoutMS int `mapstructure:"lock_timeout_ms" default:"5000"`
	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `mapstructure:"max_open_conns" default:"10"`
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SchemaName returns the schema introspection reads from: the Postgres
// schema, the MySQL database, or "main" for sqlite.
func (c Config) SchemaName() string {
	switch c.Driver {
	case DriverMySQL:
		return c.Name
	case DriverSQLite:
		return "main"
	}
	if c.Schema == "" {
		return "public"
	}
	return c.Schema
}
