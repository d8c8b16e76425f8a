package logger_test

import (
	"os"
	"path/filepath"
	"testing"

	"pgmerge/core/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     logger.Config
		level   zapcore.Level
		wantErr bool
	}{
		{"Debug", logger.Config{Level: "debug", Format: "console"}, zapcore.DebugLevel, false},
		{"Default", logger.Config{}, zapcore.InfoLevel, false},
		{"Warn", logger.Config{Level: "warn", Format: "json"}, zapcore.WarnLevel, false},
		{"Invalid", logger.Config{Level: "loud"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := logger.New(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.level))
			if tt.level > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.level-1))
			}
		})
	}
}

// TestNew_File tests that log entries are also written to the rotating file.
func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgmerge.log")
	l, err := logger.New(&logger.Config{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	l.Info("Applying plan", zap.String("run_id", "r1"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"Applying plan"`)
	assert.Contains(t, string(data), `"run_id":"r1"`)
}

func TestWithRayID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	app := fiber.New()
	c := app.AcquireCtx(&fasthttp.RequestCtx{})
	defer app.ReleaseCtx(c)

	logger.WithRayID(base, c).Info("no ray")
	c.Locals("ray_id", "abc")
	logger.WithRayID(base, c).Info("with ray")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].ContextMap())
	assert.Equal(t, "abc", entries[1].ContextMap()["ray_id"])
}
