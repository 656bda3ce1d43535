package withdrawal

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardrail/internal/apperror"
	"github.com/congo-pay/cardrail/internal/middleware"
)

// Handler exposes the pending withdrawal queue and its admin operations.
type Handler struct {
	queue     *Queue
	processor *Processor
}

// NewHandler constructs a withdrawal handler.
func NewHandler(queue *Queue, processor *Processor) *Handler {
	return &Handler{queue: queue, processor: processor}
}

// Status returns one queued withdrawal of the caller's company.
func (h *Handler) Status(c *fiber.Ctx) error {
	caller := middleware.CallerFrom(c)
	w, err := h.queue.GetQueueStatus(c.UserContext(), caller.CompanyID, c.Params("queueId"))
	if err != nil {
		return middleware.Fail(err)
	}
	return c.JSON(toPendingResponse(w))
}

// Pending lists the caller's queued withdrawals.
func (h *Handler) Pending(c *fiber.Ctx) error {
	var req PendingRequest
	if err := middleware.BindQuery(c, &req); err != nil {
		return err
	}
	caller := middleware.CallerFrom(c)
	rows, err := h.queue.GetPendingWithdrawals(c.UserContext(), Filter{
		CompanyID: caller.CompanyID,
		WalletID:  req.WalletID,
		Status:    Status(req.Status),
		Limit:     req.Limit,
	})
	if err != nil {
		return middleware.Fail(err)
	}
	out := make([]PendingResponse, 0, len(rows))
	for _, w := range rows {
		out = append(out, toPendingResponse(w))
	}
	return c.JSON(fiber.Map{"withdrawals": out})
}

// Process runs one drain pass on demand.
func (h *Handler) Process(c *fiber.Ctx) error {
	report, err := h.processor.ProcessQueueManually(c.UserContext())
	if err != nil {
		if errors.Is(err, ErrDrainInProgress) {
			return middleware.Fail(apperror.Conflict("withdrawal drain already in progress", err))
		}
		return middleware.Fail(apperror.Persistence("drain withdrawal queue", err))
	}
	return c.JSON(toDrainResponse(report))
}

// Stats reports queue counts and the last scheduler results.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.processor.GetProcessingStats(c.UserContext())
	if err != nil {
		return middleware.Fail(apperror.Persistence("load withdrawal stats", err))
	}
	return c.JSON(toStatsResponse(stats))
}
