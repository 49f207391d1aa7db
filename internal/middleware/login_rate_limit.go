package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const loginRateWindow = time.Minute

// LoginRateLimit caps login attempts per email, or per client IP when the
// body has no email, within a one minute window. It is a no-op without
// Redis and fails open when Redis errors.
func LoginRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Email string `json:"email"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.Email))
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:login:" + subject

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		count, err := cache.Incr(ctx, key).Result()
		if err == nil && count == 1 {
			err = cache.Expire(ctx, key, loginRateWindow).Err()
		}
		if err != nil {
			logger.WarnContext(ctx, "login rate limit unavailable", slog.Any("error", err))
			return c.Next()
		}
		if count > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "Too many login attempts, try again later")
		}
		return c.Next()
	}
}
