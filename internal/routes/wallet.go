package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints on an authenticated group.
// Mutations pass through the idempotency middleware.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idempotent fiber.Handler) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Post("/fund", idempotent, h.Fund)
	r.Post("/withdraw", idempotent, h.Withdraw)
	r.Post("/transfer", idempotent, h.Transfer)
	r.Get("/:accountNumber", h.Get)
	r.Get("/:accountNumber/transactions", h.Transactions)
}
