package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Rail identifies a supported card-issuing rail. A card carries its rail as data
// from issuance onward.
type Rail string

const (
	RailSudo     Rail = "sudo"
	RailMaplerad Rail = "maplerad"
)

var (
	// ErrUnknownOutcome is returned when a transfer call timed out or broke after
	// the request may have reached the rail. It never implies success.
	ErrUnknownOutcome = errors.New("transfer outcome unknown")

	// ErrDuplicateReference is returned when a payment reference was already
	// submitted once.
	ErrDuplicateReference = errors.New("payment reference already used")

	// ErrUnsupportedRail is returned for rails without a registered adapter.
	ErrUnsupportedRail = errors.New("unsupported rail")
)

// ParseRail validates a provider tag.
func ParseRail(tag string) (Rail, error) {
	switch Rail(strings.ToLower(strings.TrimSpace(tag))) {
	case RailSudo:
		return RailSudo, nil
	case RailMaplerad:
		return RailMaplerad, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedRail, tag)
	}
}

// Outcome is the closed set of transfer results a rail can report.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeCompleted
	OutcomePending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomePending:
		return "pending"
	default:
		return "failed"
	}
}

// Reason qualifies a failed outcome.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonRejected          Reason = "rejected"
	ReasonNotFound          Reason = "not_found"
)

// TransferRequest moves funds between two provider accounts.
type TransferRequest struct {
	DebitAccountID  string
	CreditAccountID string
	Amount          decimal.Decimal
	Currency        string
	Narration       string
	Reference       string
}

// Result is the normalized response of a transfer or transfer query.
type Result struct {
	Outcome    Outcome
	TransferID string
	Amount     decimal.Decimal
	Status     string
	Message    string
	Reason     Reason
}

// Confirmed reports whether the result is a completed transfer with an id.
func (r Result) Confirmed() bool {
	return r.Outcome == OutcomeCompleted && r.TransferID != ""
}

// Provisional reports whether the result is completed or pending with an id.
func (r Result) Provisional() bool {
	return (r.Outcome == OutcomeCompleted || r.Outcome == OutcomePending) && r.TransferID != ""
}

// Adapter performs transfers on one rail.
type Adapter interface {
	Rail() Rail
	// TransferFunds submits a transfer. A non-nil error means the call itself
	// failed; business rejections come back as OutcomeFailed.
	TransferFunds(ctx context.Context, req TransferRequest) (Result, error)
	// QueryTransfer looks up a previously submitted transfer by its reference.
	QueryTransfer(ctx context.Context, reference string) (Result, error)
	// DebitAccountID returns the company settlement account for the active environment.
	DebitAccountID() string
}

// Registry resolves the adapter for a rail.
type Registry map[Rail]Adapter

// NewRegistry indexes adapters by their rail.
func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Rail()] = a
	}
	return r
}

// Adapter returns the adapter registered for rail.
func (r Registry) Adapter(rail Rail) (Adapter, error) {
	a, ok := r[rail]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRail, rail)
	}
	return a, nil
}

// NewReference generates a unique, time-ordered payment reference.
func NewReference(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}
