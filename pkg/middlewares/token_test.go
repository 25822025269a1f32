package middlewares

import (
	"io"
	"net/http/httptest"
	"testing"

	"chat_stream_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTMiddleware())
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(ProfileID(c) + ":" + Username(c))
	})
	return app
}

func TestJWTMiddleware(t *testing.T) {
	tok, err := token.GenerateJWT("p1", "alice", "test")
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		header string
		status int
		body   string
	}{
		{name: "query token", target: "/me?auth=" + tok, status: fiber.StatusOK, body: "p1:alice"},
		{name: "bearer header", target: "/me", header: "Bearer " + tok, status: fiber.StatusOK, body: "p1:alice"},
		{name: "missing", target: "/me", status: fiber.StatusUnauthorized},
		{name: "invalid", target: "/me?auth=garbage", status: fiber.StatusUnauthorized},
	}

	app := newApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				b, _ := io.ReadAll(resp.Body)
				assert.Equal(t, tt.body, string(b))
			}
		})
	}
}
