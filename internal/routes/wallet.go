package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardrail/internal/payout"
	"github.com/congo-pay/cardrail/internal/wallet"
	"github.com/congo-pay/cardrail/internal/withdrawal"
)

// RegisterWalletRoutes wires wallet reads and payouts. Register after the
// payment routes so /wallets/available is not captured by :walletId.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, p *payout.Handler, guard ...fiber.Handler) {
	r.Get("/wallets/:walletId", h.Balance)
	r.Get("/wallets/:walletId/transactions", h.Statement)
	r.Post("/wallets/:walletId/payout", chain(guard, p.Withdraw)...)
}

// RegisterWithdrawalRoutes wires the pending queue reads and the admin
// operations.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler, admin fiber.Handler) {
	r.Get("/withdrawals/queue/:queueId", h.Status)
	r.Get("/withdrawals/pending", h.Pending)

	ops := r.Group("/admin/withdrawals", admin)
	ops.Post("/process", h.Process)
	ops.Get("/stats", h.Stats)
}
