package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Connect opens a pooled connection for the configured driver and verifies it
// with a ping. The session lock timeout is part of the DSN so that every
// pooled connection carries it.
func Connect(cfg Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	// Suppress GORM logging; the merge engine logs through zap
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if cfg.Driver == DriverSQLite {
		// One writer at a time; plain ":memory:" databases exist per connection.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout())
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Close closes the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Dialector returns the GORM dialector for the configured driver.
func Dialector(cfg Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverPostgres, "":
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// DSN builds the driver-specific connection string.
func DSN(cfg Config) (string, error) {
	timeout := int(cfg.timeout() / time.Second)

	switch cfg.Driver {
	case DriverPostgres, "":
		// Unknown keywords (lock_timeout, search_path) become session parameters.
		parts := []string{
			"host=" + quoteValue(cfg.Host),
			fmt.Sprintf("port=%d", cfg.Port),
			"user=" + quoteValue(cfg.User),
			"password=" + quoteValue(cfg.Password),
			"dbname=" + quoteValue(cfg.Name),
			"sslmode=" + quoteValue(orDefault(cfg.SSLMode, "disable")),
			fmt.Sprintf("connect_timeout=%d", timeout),
			"search_path=" + quoteValue(cfg.SchemaName()),
		}
		if cfg.LockTimeoutMS > 0 {
			parts = append(parts, fmt.Sprintf("lock_timeout=%d", cfg.LockTimeoutMS))
		}
		return strings.Join(parts, " "), nil

	case DriverMySQL:
		// Special characters in the password must be URL encoded.
		userInfo := url.UserPassword(cfg.User, cfg.Password).String()
		dsn := fmt.Sprintf("%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
			userInfo, cfg.Host, cfg.Port, cfg.Name, timeout, timeout, timeout)
		if cfg.LockTimeoutMS > 0 {
			// innodb_lock_wait_timeout has a one second resolution.
			secs := max(1, (cfg.LockTimeoutMS+999)/1000)
			dsn += fmt.Sprintf("&innodb_lock_wait_timeout=%d", secs)
		}
		return dsn, nil

	case DriverSQLite:
		if cfg.Name == "" {
			return "", fmt.Errorf("sqlite requires a database name")
		}
		sep := "?"
		if strings.Contains(cfg.Name, "?") {
			sep = "&"
		}
		busy := cfg.LockTimeoutMS
		if busy <= 0 {
			busy = 5000
		}
		return fmt.Sprintf("%s%s_foreign_keys=on&_busy_timeout=%d", cfg.Name, sep, busy), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// quoteValue quotes a libpq keyword/value when it is empty or contains
// spaces, quotes or backslashes.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
