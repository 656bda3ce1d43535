package withdrawal

import (
	"time"

	"github.com/congo-pay/cardrail/internal/money"
)

// PendingRequest carries the query parameters of the pending list.
type PendingRequest struct {
	WalletID string `query:"wallet_id"`
	Status   string `query:"status" validate:"omitempty,oneof=PENDING_FUNDS PROCESSING PROCESSED FAILED"`
	Limit    int    `query:"limit" validate:"omitempty,min=1,max=200"`
}

// PendingResponse renders one queued withdrawal.
type PendingResponse struct {
	QueueID        string  `json:"queue_id"`
	WalletID       string  `json:"wallet_id"`
	Amount         string  `json:"amount"`
	FeeAmount      string  `json:"fee_amount"`
	TotalAmount    string  `json:"total_amount"`
	Currency       string  `json:"currency"`
	PhoneNumber    string  `json:"phone_number"`
	Operator       string  `json:"operator"`
	Reference      string  `json:"reference"`
	Status         string  `json:"status"`
	Priority       int     `json:"priority"`
	FailedAttempts int     `json:"failed_attempts"`
	TransactionID  string  `json:"transaction_id,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	CreatedAt      string  `json:"created_at"`
	ProcessedAt    *string `json:"processed_at,omitempty"`
}

// DrainResponse renders a DrainReport.
type DrainResponse struct {
	Examined   int    `json:"examined"`
	Processed  int    `json:"processed"`
	Deferred   int    `json:"deferred"`
	Retried    int    `json:"retried"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

// StatsResponse renders Stats.
type StatsResponse struct {
	Counts          map[string]int    `json:"counts"`
	MaxAttempts     int               `json:"max_attempts"`
	LastDrain       *DrainResponse    `json:"last_drain,omitempty"`
	Liquidity       map[string]string `json:"liquidity"`
	LiquidityAt     string            `json:"liquidity_checked_at,omitempty"`
	LastArchived    int               `json:"last_archived"`
	DrainInterval   string            `json:"drain_interval"`
	LiquidityPeriod string            `json:"liquidity_interval"`
}

func toPendingResponse(w PendingWithdrawal) PendingResponse {
	places := money.Places(w.Currency)
	out := PendingResponse{
		QueueID:        w.ID,
		WalletID:       w.WalletID,
		Amount:         w.Amount.StringFixed(places),
		FeeAmount:      w.FeeAmount.StringFixed(places),
		TotalAmount:    w.TotalAmount.StringFixed(places),
		Currency:       w.Currency,
		PhoneNumber:    w.PhoneNumber,
		Operator:       w.Operator,
		Reference:      w.Reference,
		Status:         string(w.Status),
		Priority:       w.Priority,
		FailedAttempts: w.FailedAttempts,
		TransactionID:  w.TransactionID,
		ErrorMessage:   w.ErrorMessage,
		CreatedAt:      w.CreatedAt.Format(time.RFC3339),
	}
	if w.ProcessedAt != nil {
		at := w.ProcessedAt.Format(time.RFC3339)
		out.ProcessedAt = &at
	}
	return out
}

func toDrainResponse(r DrainReport) DrainResponse {
	return DrainResponse{
		Examined:   r.Examined,
		Processed:  r.Processed,
		Deferred:   r.Deferred,
		Retried:    r.Retried,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		StartedAt:  r.StartedAt.Format(time.RFC3339),
		FinishedAt: r.FinishedAt.Format(time.RFC3339),
	}
}

func toStatsResponse(s Stats) StatsResponse {
	out := StatsResponse{
		Counts:          make(map[string]int, len(s.Counts)),
		MaxAttempts:     s.MaxAttempts,
		Liquidity:       make(map[string]string, len(s.Liquidity)),
		LastArchived:    s.LastArchived,
		DrainInterval:   s.DrainInterval.String(),
		LiquidityPeriod: s.LiquidityPeriod.String(),
	}
	for status, n := range s.Counts {
		out.Counts[string(status)] = n
	}
	for _, c := range s.Currencies() {
		out.Liquidity[c] = s.Liquidity[c].StringFixed(money.Places(c))
	}
	if !s.LiquidityAt.IsZero() {
		out.LiquidityAt = s.LiquidityAt.Format(time.RFC3339)
	}
	if s.LastDrain != nil {
		d := toDrainResponse(*s.LastDrain)
		out.LastDrain = &d
	}
	return out
}
