package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/congo-pay/cardrail/internal/money"
)

// MapleradConfig configures the Maplerad card rail.
type MapleradConfig struct {
	BaseURL   string
	SecretKey string
	Accounts  AccountConfig
	Timeout   time.Duration
}

// MapleradAdapter talks to the Maplerad transfers API. Amounts travel in minor units.
type MapleradAdapter struct {
	cfg    MapleradConfig
	client *http.Client
}

// NewMapleradAdapter builds a Maplerad adapter with a bounded HTTP timeout.
func NewMapleradAdapter(cfg MapleradConfig) *MapleradAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &MapleradAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

type mapleradTransferPayload struct {
	Source      string `json:"source_account"`
	Destination string `json:"destination_account"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason"`
	Reference   string `json:"reference"`
}

type mapleradTransfer struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type mapleradEnvelope struct {
	Status  bool             `json:"status"`
	Message string           `json:"message"`
	Data    mapleradTransfer `json:"data"`
}

// Rail implements Adapter.
func (a *MapleradAdapter) Rail() Rail { return RailMaplerad }

// DebitAccountID implements Adapter.
func (a *MapleradAdapter) DebitAccountID() string { return a.cfg.Accounts.DebitAccount() }

// TransferFunds implements Adapter.
func (a *MapleradAdapter) TransferFunds(ctx context.Context, req TransferRequest) (Result, error) {
	payload := mapleradTransferPayload{
		Source:      req.DebitAccountID,
		Destination: req.CreditAccountID,
		Amount:      money.MinorUnits(req.Amount, req.Currency),
		Currency:    strings.ToUpper(req.Currency),
		Reason:      req.Narration,
		Reference:   req.Reference,
	}
	var env mapleradEnvelope
	if err := doJSON(ctx, a.client, http.MethodPost, a.cfg.BaseURL+"/transfers", a.headers(), payload, &env); err != nil {
		return a.rejection(err)
	}
	return a.decode(env), nil
}

// QueryTransfer implements Adapter.
func (a *MapleradAdapter) QueryTransfer(ctx context.Context, reference string) (Result, error) {
	var env mapleradEnvelope
	endpoint := a.cfg.BaseURL + "/transfers/reference/" + url.PathEscape(reference)
	if err := doJSON(ctx, a.client, http.MethodGet, endpoint, a.headers(), nil, &env); err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.status == http.StatusNotFound {
			return Result{Outcome: OutcomeFailed, Reason: ReasonNotFound, Message: "transfer not found"}, nil
		}
		return a.rejection(err)
	}
	return a.decode(env), nil
}

func (a *MapleradAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.cfg.SecretKey}
}

func (a *MapleradAdapter) decode(env mapleradEnvelope) Result {
	res := Result{
		TransferID: env.Data.ID,
		Amount:     money.FromMinorUnits(env.Data.Amount, env.Data.Currency),
		Status:     env.Data.Status,
		Message:    env.Message,
	}
	switch strings.ToUpper(env.Data.Status) {
	case "SUCCESS", "COMPLETED":
		res.Outcome = OutcomeCompleted
	case "PENDING", "PROCESSING":
		res.Outcome = OutcomePending
	default:
		res.Outcome = OutcomeFailed
		res.Reason = ReasonRejected
		if containsInsufficientFunds(env.Message) {
			res.Reason = ReasonInsufficientFunds
		}
	}
	if !env.Status && res.Outcome != OutcomeFailed {
		res.Outcome = OutcomeFailed
		res.Reason = ReasonRejected
	}
	return res
}

func (a *MapleradAdapter) rejection(err error) (Result, error) {
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) {
		return Result{}, err
	}
	if statusErr.status >= http.StatusInternalServerError {
		return Result{}, fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	var env mapleradEnvelope
	_ = json.Unmarshal(statusErr.body, &env)
	res := Result{Outcome: OutcomeFailed, Reason: ReasonRejected, Message: env.Message}
	if containsInsufficientFunds(env.Message) {
		res.Reason = ReasonInsufficientFunds
	}
	return res, nil
}
