package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StaticAdapter simulates a rail that completes every transfer. It remembers
// results by reference so QueryTransfer behaves like a real rail.
type StaticAdapter struct {
	rail    Rail
	account string

	mu      sync.Mutex
	results map[string]Result
}

// NewStaticAdapter builds a static adapter posing as rail.
func NewStaticAdapter(rail Rail, debitAccountID string) *StaticAdapter {
	return &StaticAdapter{rail: rail, account: debitAccountID, results: make(map[string]Result)}
}

// Rail implements Adapter.
func (a *StaticAdapter) Rail() Rail { return a.rail }

// DebitAccountID implements Adapter.
func (a *StaticAdapter) DebitAccountID() string { return a.account }

// TransferFunds approves the transfer with a synthetic id.
func (a *StaticAdapter) TransferFunds(_ context.Context, req TransferRequest) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if res, ok := a.results[req.Reference]; ok {
		return res, nil
	}
	res := Result{
		Outcome:    OutcomeCompleted,
		TransferID: uuid.NewString(),
		Amount:     req.Amount,
		Status:     "completed",
	}
	a.results[req.Reference] = res
	return res, nil
}

// QueryTransfer returns the recorded result for reference.
func (a *StaticAdapter) QueryTransfer(_ context.Context, reference string) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if res, ok := a.results[reference]; ok {
		return res, nil
	}
	return Result{Outcome: OutcomeFailed, Reason: ReasonNotFound, Message: "transfer not found"}, nil
}
