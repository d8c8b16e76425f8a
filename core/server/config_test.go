package server_test

import (
	"testing"
	"time"

	"pgmerge/core/server"

	"github.com/stretchr/testify/assert"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name      string
		cfg       server.Config
		address   string
		bodyLimit int
		ttl       time.Duration
	}{
		{"Defaults", server.Config{Port: "8080", BodyLimitMB: 64, SchemaCacheSeconds: 60}, ":8080", 64 << 20, time.Minute},
		{"NoLimit", server.Config{Port: "9000"}, ":9000", 4 << 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.address, tt.cfg.Address())
			assert.Equal(t, tt.bodyLimit, tt.cfg.BodyLimit())
			assert.Equal(t, tt.ttl, tt.cfg.SchemaCacheTTL())
		})
	}
}
