package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"pgmerge/core/database"
	"pgmerge/core/logger"
	"pgmerge/core/server"
	"pgmerge/core/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// Server holds configuration for the HTTP server.
	Server server.Config `mapstructure:"server"`
	// Storage holds configuration for the object storage (e.g., S3, Minio).
	Storage storage.Config `mapstructure:"storage"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the database connection.
	Database database.Config `mapstructure:"database"`
	// Merge holds planning and execution settings of merge runs.
	Merge MergeConfig `mapstructure:"merge"`
}

// LoadConfig loads configuration from environment variables and the .env
// file in dir. Keys map to variables as SECTION_KEY (database.host ->
// DATABASE_HOST). The merge section is validated before returning.
func LoadConfig(dir string) (*Config, error) {
	// A missing .env is normal in production
	_ = godotenv.Overload(filepath.Join(dir, ".env"))

	v := viper.New()
	bindValues(v, Config{}, "")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if _, err := config.Merge.Options(); err != nil {
		return nil, fmt.Errorf("invalid merge config: %w", err)
	}
	return &config, nil
}

// bindValues registers every mapstructure key of the struct with its
// 'default' tag value, recursing into nested sections. Registering a key is
// what lets AutomaticEnv pick up its environment variable.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		v.SetDefault(key, field.Tag.Get("default"))
	}
}
