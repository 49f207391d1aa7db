package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/auth"
)

// RegisterAuthRoutes wires registration, login and refresh.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, loginLimiter fiber.Handler) {
	r.Post("/user", h.Register)
	r.Post("/user/login", loginLimiter, h.Login)
	r.Post("/user/refresh", h.Refresh)
}
