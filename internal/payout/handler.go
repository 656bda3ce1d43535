package payout

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardrail/internal/middleware"
	"github.com/congo-pay/cardrail/internal/money"
)

// Handler exposes the payout endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a payout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Withdraw pays out from the wallet's payout balance. A queued payout
// answers 202.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawalRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		return err
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}
	caller := middleware.CallerFrom(c)
	if req.Priority > 0 && caller.Role != middleware.RoleAdmin {
		return fiber.NewError(http.StatusForbidden, "priority is reserved for operators")
	}

	res, err := h.service.ProcessWithdrawal(c.UserContext(), WithdrawalInput{
		CompanyID:   caller.CompanyID,
		UserID:      caller.UserID,
		WalletID:    c.Params("walletId"),
		Amount:      amount,
		PhoneNumber: req.PhoneNumber,
		Operator:    strings.ToUpper(req.Operator),
		Reason:      req.Reason,
		Priority:    req.Priority,
	})
	if err != nil {
		return middleware.Fail(err)
	}

	status := http.StatusCreated
	if res.Status == StatusQueued {
		status = http.StatusAccepted
	}
	places := money.Places(res.Currency)
	return c.Status(status).JSON(WithdrawalResponse{
		Status:                res.Status,
		Message:               res.Message,
		TransactionID:         res.TransactionID,
		QueueID:               res.QueueID,
		Reference:             res.Reference,
		ProviderTransactionID: res.ProviderTransactionID,
		Amount:                res.Amount.StringFixed(places),
		FeeAmount:             res.FeeAmount.StringFixed(places),
		TotalAmount:           res.TotalAmount.StringFixed(places),
		PayoutBalance:         res.PayoutBalance.StringFixed(places),
		Currency:              res.Currency,
	})
}
