package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/usercontext"
)

type stubAuth map[string]*models.Account

func (s stubAuth) Authenticate(_ context.Context, rawKey string) (*models.Account, error) {
	if a, ok := s[rawKey]; ok {
		return a, nil
	}
	return nil, apperr.New(apperr.CodeUnauthorized, "invalid API key")
}

var accounts = stubAuth{
	"sb_provider": {ID: 1, Name: "Provider", Role: models.RoleProvider},
	"sb_operator": {ID: 2, Name: "Operator", Role: models.RoleOperator},
	"sb_banned":   {ID: 3, Name: "Banned", Role: models.RoleRequester, IsBanned: true},
}

func newApp(guards ...fiber.Handler) *fiber.App {
	app := fiber.New()
	handlers := append([]fiber.Handler{APIKeyAuth(accounts)}, guards...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		return c.JSON(usercontext.GetUserContext(c))
	})
	app.Get("/", handlers...)
	return app
}

func get(t *testing.T, app *fiber.App, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestExtractAPIKey(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(extractAPIKeyFromHeader(c)) })

	cases := []struct {
		headers map[string]string
		want    string
	}{
		{map[string]string{"X-API-Key": " sb_a "}, "sb_a"},
		{map[string]string{"Authorization": "Bearer sb_b"}, "sb_b"},
		{map[string]string{"Authorization": "bearer   sb_c"}, "sb_c"},
		{map[string]string{"Authorization": "Basic abc"}, ""},
		{map[string]string{"X-API-Key": "sb_x", "Authorization": "Bearer sb_y"}, "sb_x"},
	}
	for _, tc := range cases {
		resp := get(t, app, tc.headers)
		body := make([]byte, 64)
		n, _ := resp.Body.Read(body)
		assert.Equal(t, tc.want, string(body[:n]))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	app := newApp()

	assert.Equal(t, fiber.StatusOK, get(t, app, nil).StatusCode)
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, map[string]string{"X-API-Key": "sb_unknown"}).StatusCode)
	assert.Equal(t, fiber.StatusOK, get(t, app, map[string]string{"X-API-Key": "sb_banned"}).StatusCode)
}

func TestRequireGuards(t *testing.T) {
	account := newApp(RequireAccount)
	assert.Equal(t, fiber.StatusUnauthorized, get(t, account, nil).StatusCode)
	assert.Equal(t, fiber.StatusOK, get(t, account, map[string]string{"X-API-Key": "sb_provider"}).StatusCode)

	operator := newApp(RequireOperator)
	assert.Equal(t, fiber.StatusUnauthorized, get(t, operator, nil).StatusCode)
	assert.Equal(t, fiber.StatusForbidden, get(t, operator, map[string]string{"X-API-Key": "sb_provider"}).StatusCode)
	assert.Equal(t, fiber.StatusOK, get(t, operator, map[string]string{"X-API-Key": "sb_operator"}).StatusCode)
}

func TestRateLimitKeysByAccount(t *testing.T) {
	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	rule := func() ratelimit.Rule { return ratelimit.Rule{Limit: 1, Window: time.Minute} }
	app := newApp(RateLimit(limiter, "test.action", rule))

	provider := map[string]string{"X-API-Key": "sb_provider"}
	assert.Equal(t, fiber.StatusOK, get(t, app, provider).StatusCode)
	resp := get(t, app, provider)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))

	// a different account has its own window
	assert.Equal(t, fiber.StatusOK, get(t, app, map[string]string{"X-API-Key": "sb_operator"}).StatusCode)

	_, found, err := limiter.Inspect(context.Background(), "test.action", "account:1")
	require.NoError(t, err)
	assert.True(t, found)
}
