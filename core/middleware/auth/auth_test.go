package auth_test

import (
	"net/http/httptest"
	"testing"

	"pgmerge/core/middleware/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		path   string
		header string
		want   int
	}{
		{"Disabled", "", "/api/schema", "", fiber.StatusOK},
		{"Valid", "secret", "/api/schema", "secret", fiber.StatusOK},
		{"Missing", "secret", "/api/schema", "", fiber.StatusUnauthorized},
		{"Invalid", "secret", "/api/schema", "wrong", fiber.StatusForbidden},
		{"Skipped", "secret", "/health", "", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(auth.New(auth.Config{ApiKey: tt.apiKey, Skip: []string{"/health"}}))
			app.Get("/*", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set(auth.HeaderName, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
