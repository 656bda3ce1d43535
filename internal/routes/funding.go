package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardrail/internal/funding"
)

// RegisterFundingRoutes wires card funding, withdrawal and freeze endpoints.
// guard runs before the money-movement handlers.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, guard ...fiber.Handler) {
	cards := r.Group("/cards/:cardId")
	cards.Post("/fund", chain(guard, h.Fund)...)
	cards.Post("/withdraw", chain(guard, h.Withdraw)...)
	cards.Post("/freeze", h.Freeze)
	cards.Post("/unfreeze", h.Unfreeze)
}
