package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	t.Run("Invalid Connection", func(t *testing.T) {
		cfg := Config{
			Driver:         DriverMySQL,
			Host:           "localhost",
			Port:           9999, // Unused port
			User:           "root",
			Password:       "wrongpassword",
			Name:           "shop",
			TimeoutSeconds: 1,
		}

		// Connect should fail (timeout or refused)
		db, err := Connect(cfg)
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("Unsupported Driver", func(t *testing.T) {
		db, err := Connect(Config{Driver: "oracle"})
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("SQLite", func(t *testing.T) {
		db, err := Connect(Config{Driver: DriverSQLite, Name: ":memory:"})
		require.NoError(t, err)
		defer Close(db)

		var fk int
		require.NoError(t, db.Raw("PRAGMA foreign_keys").Scan(&fk).Error)
		assert.Equal(t, 1, fk)
	})
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "postgres",
			cfg:  Config{Driver: DriverPostgres, Host: "db", Port: 5432, User: "app", Password: "s3cret", Name: "shop", Schema: "sales", TimeoutSeconds: 5, LockTimeoutMS: 2000},
			want: "host=db port=5432 user=app password=s3cret dbname=shop sslmode=disable connect_timeout=5 search_path=sales lock_timeout=2000",
		},
		{
			name: "postgres quoting",
			cfg:  Config{Driver: DriverPostgres, Host: "db", Port: 5432, User: "app", Password: "it's me", Name: "shop", SSLMode: "require"},
			want: `host=db port=5432 user=app password='it\'s me' dbname=shop sslmode=require connect_timeout=30 search_path=public`,
		},
		{
			name: "mysql",
			cfg:  Config{Driver: DriverMySQL, Host: "db", Port: 3306, User: "root", Password: "p@ss", Name: "shop", TimeoutSeconds: 10, LockTimeoutMS: 1500},
			want: "root:p%40ss@tcp(db:3306)/shop?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true&timeout=10s&readTimeout=10s&writeTimeout=10s&innodb_lock_wait_timeout=2",
		},
		{
			name: "sqlite",
			cfg:  Config{Driver: DriverSQLite, Name: "file:shop?mode=memory&cache=shared"},
			want: "file:shop?mode=memory&cache=shared&_foreign_keys=on&_busy_timeout=5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DSN(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DSN(Config{Driver: DriverSQLite})
	assert.Error(t, err)
}

func TestConfig_SchemaName(t *testing.T) {
	assert.Equal(t, "public", Config{Driver: DriverPostgres}.SchemaName())
	assert.Equal(t, "sales", Config{Driver: DriverPostgres, Schema: "sales"}.SchemaName())
	assert.Equal(t, "shop", Config{Driver: DriverMySQL, Name: "shop", Schema: "public"}.SchemaName())
	assert.Equal(t, "main", Config{Driver: DriverSQLite, Name: "x.db"}.SchemaName())
}

func TestIsLockTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("syntax error"), false},
		{"pgx lock not available", &pgconn.PgError{Code: "55P03"}, true},
		{"pgx deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"pgx unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"pq lock not available", &pq.Error{Code: "55P03"}, true},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql deadlock", fmt.Errorf("commit: %w", &mysql.MySQLError{Number: 1213}), true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"sqlite message", errors.New("database is locked"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLockTimeout(tt.err))
		})
	}
}
