package wallet

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardrail/internal/middleware"
	"github.com/congo-pay/cardrail/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transactionResponse struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	FeeAmount     string `json:"fee_amount"`
	BalanceBefore string `json:"balance_before,omitempty"`
	BalanceAfter  string `json:"balance_after,omitempty"`
	Reference     string `json:"reference"`
	CreatedAt     string `json:"created_at"`
}

type auditResponse struct {
	TransactionID string `json:"transaction_id"`
	Pool          string `json:"pool"`
	OldBalance    string `json:"old_balance"`
	NewBalance    string `json:"new_balance"`
	Delta         string `json:"delta"`
	CreatedAt     string `json:"created_at"`
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), middleware.CallerFrom(c).CompanyID, c.Params("walletId"))
	if err != nil {
		return middleware.Fail(err)
	}
	places := money.Places(balance.Currency)
	return c.JSON(fiber.Map{
		"wallet_id":      balance.WalletID,
		"currency":       balance.Currency,
		"balance":        balance.Balance.StringFixed(places),
		"payout_balance": balance.PayoutBalance.StringFixed(places),
		"payout_amount":  balance.PayoutAmount.StringFixed(places),
		"timestamp":      balance.AsOf.Format(time.RFC3339),
	})
}

// Statement returns recent wallet transactions and balance audits.
func (h *Handler) Statement(c *fiber.Ctx) error {
	st, err := h.service.Statement(c.UserContext(), middleware.CallerFrom(c).CompanyID, c.Params("walletId"), c.QueryInt("limit"))
	if err != nil {
		return middleware.Fail(err)
	}
	txs := make([]transactionResponse, 0, len(st.Transactions))
	for _, t := range st.Transactions {
		places := money.Places(t.Currency)
		r := transactionResponse{
			ID:        t.ID,
			Type:      string(t.Type),
			Status:    string(t.Status),
			Amount:    t.Amount.StringFixed(places),
			Currency:  t.Currency,
			FeeAmount: t.FeeAmount.StringFixed(places),
			Reference: t.Reference,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		}
		if t.WalletBalanceBefore.Valid {
			r.BalanceBefore = t.WalletBalanceBefore.Decimal.StringFixed(money.Places(st.Wallet.Currency))
			r.BalanceAfter = t.WalletBalanceAfter.Decimal.StringFixed(money.Places(st.Wallet.Currency))
		}
		txs = append(txs, r)
	}
	audits := make([]auditResponse, 0, len(st.Audits))
	places := money.Places(st.Wallet.Currency)
	for _, a := range st.Audits {
		audits = append(audits, auditResponse{
			TransactionID: a.TransactionID,
			Pool:          string(a.Pool),
			OldBalance:    a.OldBalance.StringFixed(places),
			NewBalance:    a.NewBalance.StringFixed(places),
			Delta:         a.Delta.StringFixed(places),
			CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{
		"wallet_id":    st.Wallet.ID,
		"currency":     st.Wallet.Currency,
		"transactions": txs,
		"audits":       audits,
	})
}
