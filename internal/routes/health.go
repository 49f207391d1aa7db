package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/response"
)

// RegisterHealthRoutes answers GET and POST /health with the state of the
// configured store and Redis.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	handler := func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{}
		healthy := true
		record := func(name string, err error) {
			if err != nil {
				checks[name] = err.Error()
				healthy = false
				return
			}
			checks[name] = "ok"
		}
		switch {
		case d.DB != nil:
			record("postgres", d.DB.Ping(ctx))
		case d.SQL != nil:
			record("sqlite", d.SQL.PingContext(ctx))
		default:
			checks["store"] = "memory"
		}
		if d.Cache != nil {
			record("redis", d.Cache.Ping(ctx).Err())
		}

		data := fiber.Map{
			"checks":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if !healthy {
			return response.Send(c, response.Error("Application is degraded", http.StatusServiceUnavailable).WithData(data))
		}
		return response.Send(c, response.Success("Application is running", data))
	}
	app.Get("/health", handler)
	app.Post("/health", handler)
}
