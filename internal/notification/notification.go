package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// KindSettlementFailed records a card fund/withdraw that did not settle.
	KindSettlementFailed = "settlement.failed"
	// KindSettlementUnreconciled records an external transfer that succeeded
	// while the local commit failed. It needs operator reconciliation.
	KindSettlementUnreconciled = "settlement.unreconciled"
	// KindLiquidityLow alerts operators that payout rail liquidity is below threshold.
	KindLiquidityLow = "liquidity.low"
	// KindWithdrawalQueued tells the requester their payout was deferred.
	KindWithdrawalQueued = "withdrawal.queued"
	// KindWithdrawalFailed tells the requester a queued payout gave up.
	KindWithdrawalFailed = "withdrawal.failed"
	// KindWalletTransfer tells the company a wallet-to-wallet transfer completed.
	KindWalletTransfer = "wallet.transfer"
)

// Message describes a notification payload.
type Message struct {
	Kind        string            `json:"kind"`
	Destination string            `json:"destination"`
	Body        string            `json:"body"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{"kind", message.Kind, "destination", message.Destination, "body", message.Body}
	for k, v := range message.Attributes {
		attrs = append(attrs, k, v)
	}
	n.logger.Info("notification", attrs...)
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

// Send implements Notifier.
func (m Multi) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch sends message best-effort. Delivery errors are logged and never
// returned so they cannot mask the caller's outcome.
func Dispatch(ctx context.Context, n Notifier, logger *slog.Logger, message Message) {
	if n == nil {
		return
	}
	if message.OccurredAt.IsZero() {
		message.OccurredAt = time.Now().UTC()
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := n.Send(sendCtx, message); err != nil && logger != nil {
		logger.Warn("notification delivery failed",
			slog.String("kind", message.Kind),
			slog.String("destination", message.Destination),
			slog.Any("error", err))
	}
}
