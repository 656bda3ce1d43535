package payments

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardrail/internal/ledger"
	"github.com/congo-pay/cardrail/internal/middleware"
	"github.com/congo-pay/cardrail/internal/money"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Transfer processes a wallet-to-wallet transfer.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req TransferRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		return err
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}
	caller := middleware.CallerFrom(c)

	res, err := h.service.TransferBetween(c.UserContext(), TransferInput{
		CompanyID:       caller.CompanyID,
		UserID:          caller.UserID,
		FromWalletID:    req.FromWalletID,
		ToWalletID:      req.ToWalletID,
		Amount:          amount,
		Reason:          req.Reason,
		ClientReference: req.ClientReference,
	})
	if err != nil {
		return middleware.Fail(err)
	}

	return c.Status(http.StatusCreated).JSON(TransferResponse{
		QuoteResponse:       toQuoteResponse(res.Quote),
		TransactionID:       res.TransactionID,
		CreditTransactionID: res.CreditTransactionID,
		Reference:           res.Reference,
		FromBalance:         res.FromBalance.StringFixed(money.Places(res.FromCurrency)),
		ToBalance:           res.ToBalance.StringFixed(money.Places(res.ToCurrency)),
		CompletedAt:         res.CompletedAt.Format(time.RFC3339),
	})
}

// Fees quotes a transfer without moving funds.
func (h *Handler) Fees(c *fiber.Ctx) error {
	var req FeeRequest
	if err := middleware.BindQuery(c, &req); err != nil {
		return err
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}
	quote, err := h.service.CalculateTransferFees(c.UserContext(), FeeQuery{
		CompanyID:    middleware.CallerFrom(c).CompanyID,
		FromWalletID: req.FromWalletID,
		ToWalletID:   req.ToWalletID,
		Amount:       amount,
	})
	if err != nil {
		return middleware.Fail(err)
	}
	return c.JSON(toQuoteResponse(quote))
}

// Available lists the caller's active wallets.
func (h *Handler) Available(c *fiber.Ctx) error {
	wallets, err := h.service.GetAvailableWallets(c.UserContext(), middleware.CallerFrom(c).CompanyID, c.Query("exclude"))
	if err != nil {
		return middleware.Fail(err)
	}
	out := make([]WalletResponse, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, toWalletResponse(w))
	}
	return c.JSON(fiber.Map{"wallets": out})
}

func toWalletResponse(w ledger.Wallet) WalletResponse {
	places := money.Places(w.Currency)
	return WalletResponse{
		ID:             w.ID,
		Currency:       w.Currency,
		Balance:        w.Balance.StringFixed(places),
		PayoutBalance:  w.PayoutBalance.StringFixed(places),
		CountryISOCode: w.CountryISOCode,
	}
}

func toQuoteResponse(q Quote) QuoteResponse {
	return QuoteResponse{
		FromCurrency:    q.FromCurrency,
		ToCurrency:      q.ToCurrency,
		Amount:          q.Amount.StringFixed(money.Places(q.FromCurrency)),
		FeePercentage:   q.FeePercentage.String(),
		FeeAmount:       q.FeeAmount.StringFixed(money.Places(q.FromCurrency)),
		TotalAmount:     q.TotalAmount.StringFixed(money.Places(q.FromCurrency)),
		ExchangeRate:    q.ExchangeRate.String(),
		ConvertedAmount: q.ConvertedAmount.StringFixed(money.Places(q.ToCurrency)),
	}
}
