package withdrawal

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a queued withdrawal does not exist.
	ErrNotFound = errors.New("pending withdrawal not found")
	// ErrNotClaimable is returned when a row is no longer in the expected state.
	ErrNotClaimable = errors.New("pending withdrawal not claimable")
	// ErrDuplicateReference is returned when a payout reference is queued twice.
	ErrDuplicateReference = errors.New("payout reference already queued")
	// ErrDrainInProgress is returned when another pass holds the drain lock.
	ErrDrainInProgress = errors.New("withdrawal drain already in progress")
)

// Status is a state of the pending withdrawal state machine.
type Status string

const (
	StatusPendingFunds Status = "PENDING_FUNDS"
	StatusProcessing   Status = "PROCESSING"
	StatusProcessed    Status = "PROCESSED"
	StatusFailed       Status = "FAILED"
)

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// PendingWithdrawal is a payout deferred until the payout rail has liquidity.
type PendingWithdrawal struct {
	ID             string
	WalletID       string
	Amount         decimal.Decimal
	FeeAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	PhoneNumber    string
	Operator       string
	Reason         string
	CompanyID      string
	UserID         string
	Currency       string
	Reference      string
	Status         Status
	Priority       int
	FailedAttempts int
	TransactionID  string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ProcessedAt    *time.Time
}

// Filter narrows List queries. Zero fields match everything.
type Filter struct {
	CompanyID string
	WalletID  string
	Status    Status
	Limit     int
}

// Transition describes how a claimed row leaves PROCESSING.
type Transition struct {
	To                Status
	TransactionID     string
	ErrorMessage      string
	IncrementAttempts bool
	At                time.Time
}
