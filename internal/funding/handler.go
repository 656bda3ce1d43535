package funding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardrail/internal/middleware"
	"github.com/congo-pay/cardrail/internal/money"
)

// Handler exposes HTTP endpoints for card funding flows.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Fund moves value from the company USD wallet onto the card.
func (h *Handler) Fund(c *fiber.Ctx) error {
	in, err := h.input(c)
	if err != nil {
		return err
	}
	result, err := h.service.FundCard(c.UserContext(), in)
	if err != nil {
		return middleware.Fail(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

// Withdraw moves value from the card back to the company USD wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	in, err := h.input(c)
	if err != nil {
		return err
	}
	result, err := h.service.WithdrawFromCard(c.UserContext(), in)
	if err != nil {
		return middleware.Fail(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

// Freeze blocks the card.
func (h *Handler) Freeze(c *fiber.Ctx) error {
	caller := middleware.CallerFrom(c)
	res, err := h.service.FreezeCard(c.UserContext(), caller.CompanyID, c.Params("cardId"))
	if err != nil {
		return middleware.Fail(err)
	}
	return c.JSON(StatusResponse{CardID: res.CardID, Status: string(res.Status)})
}

// Unfreeze reactivates the card.
func (h *Handler) Unfreeze(c *fiber.Ctx) error {
	caller := middleware.CallerFrom(c)
	res, err := h.service.UnfreezeCard(c.UserContext(), caller.CompanyID, c.Params("cardId"))
	if err != nil {
		return middleware.Fail(err)
	}
	return c.JSON(StatusResponse{CardID: res.CardID, Status: string(res.Status)})
}

func (h *Handler) input(c *fiber.Ctx) (CardInput, error) {
	var req AmountRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		return CardInput{}, err
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return CardInput{}, fiber.NewError(http.StatusBadRequest, "invalid amount")
	}
	caller := middleware.CallerFrom(c)
	return CardInput{
		CompanyID: caller.CompanyID,
		UserID:    caller.UserID,
		CardID:    c.Params("cardId"),
		Amount:    amount,
	}, nil
}

func toResponse(result Result) FundingResponse {
	return FundingResponse{
		Status:        string(result.Status),
		Message:       result.Message,
		TransactionID: result.TransactionID,
		Reference:     result.Reference,
		TransferID:    result.TransferID,
		Fee:           money.Round(result.Fee, cardCurrency).StringFixed(money.Places(cardCurrency)),
		CardBalance:   result.CardBalance.StringFixed(money.Places(cardCurrency)),
		WalletBalance: result.WalletBalance.StringFixed(money.Places(cardCurrency)),
	}
}
