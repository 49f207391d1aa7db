package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/response"
)

func TestAuthenticate(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler})
	app.Use(Authenticate(parties))
	app.Get("/me", func(c *fiber.Ctx) error {
		fromLocals, ok := PartyFrom(c)
		require.True(t, ok)
		fromCtx, ok := identity.PartyFrom(c.UserContext())
		require.True(t, ok)
		assert.Equal(t, fromLocals, fromCtx)
		return c.SendString(fromCtx.ID)
	})

	cases := map[string]struct {
		header string
		status int
	}{
		"valid":         {"Bearer tok-ada", fiber.StatusOK},
		"lowercase":     {"bearer tok-bob", fiber.StatusOK},
		"missing":       {"", fiber.StatusUnauthorized},
		"wrong scheme":  {"Basic tok-ada", fiber.StatusUnauthorized},
		"unknown token": {"Bearer nope", fiber.StatusUnauthorized},
		"empty token":   {"Bearer  ", fiber.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status == fiber.StatusUnauthorized {
				var env response.Response
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
				assert.False(t, env.Status)
				assert.Equal(t, "Unauthorized", env.Message)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	generated := resp.Header.Get(requestIDHeader)
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "client-id")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "client-id", resp.Header.Get(requestIDHeader))

	req = httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Len(t, resp.Header.Get(requestIDHeader), 36)
}

func TestAuditLogsStatusAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "debug", "json")
	app := fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler})
	app.Use(RequestID())
	app.Use(Audit(logger))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/fail", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized") })

	_, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ok", nil))
	require.NoError(t, err)
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ok, fail map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &fail))
	assert.Equal(t, "INFO", ok["level"])
	assert.Equal(t, float64(200), ok["status"])
	assert.NotEmpty(t, ok["request_id"])
	assert.Equal(t, "WARN", fail["level"])
	assert.Equal(t, float64(401), fail["status"])
	assert.Equal(t, "/fail", fail["path"])
}

func TestLoginRateLimit(t *testing.T) {
	mr, cache := newRedis(t)
	app := fiber.New(fiber.Config{ErrorHandler: response.ErrorHandler})
	app.Post("/user/login", LoginRateLimit(cache, 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	login := func(email string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/user/login", strings.NewReader(`{"email":"`+email+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, login("ada@example.com"))
	assert.Equal(t, fiber.StatusOK, login("ADA@example.com"))
	assert.Equal(t, fiber.StatusTooManyRequests, login("ada@example.com"))
	assert.Equal(t, fiber.StatusOK, login("bob@example.com"), "limits are per email")
	assert.True(t, mr.TTL("rl:login:ada@example.com") > 0)

	mr.FastForward(loginRateWindow)
	assert.Equal(t, fiber.StatusOK, login("ada@example.com"))
}

func TestLoginRateLimitWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Post("/user/login", LoginRateLimit(nil, 1, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/user/login", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}
