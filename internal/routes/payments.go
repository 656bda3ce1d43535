package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardrail/internal/payments"
)

// RegisterPaymentRoutes wires wallet-to-wallet transfer endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, guard ...fiber.Handler) {
	r.Post("/wallets/transfer", chain(guard, h.Transfer)...)
	r.Get("/wallets/transfer/fees", h.Fees)
	r.Get("/wallets/available", h.Available)
}
