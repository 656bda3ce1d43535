package withdrawal

import (
	"context"
	"time"
)

// Repository persists the pending withdrawal queue.
type Repository interface {
	Create(ctx context.Context, w PendingWithdrawal) error
	Get(ctx context.Context, id string) (PendingWithdrawal, error)
	List(ctx context.Context, filter Filter) ([]PendingWithdrawal, error)
	// Eligible returns PENDING_FUNDS rows with fewer than maxAttempts failures,
	// highest priority first and oldest first within a priority.
	Eligible(ctx context.Context, maxAttempts, limit int) ([]PendingWithdrawal, error)
	// Claim moves a row from PENDING_FUNDS to PROCESSING. It returns
	// ErrNotClaimable when another pass got there first.
	Claim(ctx context.Context, id string, at time.Time) (PendingWithdrawal, error)
	// Finish moves a PROCESSING row to t.To.
	Finish(ctx context.Context, id string, t Transition) (PendingWithdrawal, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	// Archive moves terminal rows last updated before cutoff to the archive
	// and returns how many moved.
	Archive(ctx context.Context, cutoff time.Time) (int, error)
}
