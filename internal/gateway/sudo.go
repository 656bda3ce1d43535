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

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/money"
)

// SudoConfig configures the Sudo card rail.
type SudoConfig struct {
	BaseURL  string
	APIKey   string
	Accounts AccountConfig
	Timeout  time.Duration
}

// SudoAdapter talks to the Sudo accounts transfer API.
type SudoAdapter struct {
	cfg    SudoConfig
	client *http.Client
}

// NewSudoAdapter builds a Sudo adapter with a bounded HTTP timeout.
func NewSudoAdapter(cfg SudoConfig) *SudoAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SudoAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

type sudoTransferPayload struct {
	DebitAccountID   string  `json:"debitAccountId"`
	CreditAccountID  string  `json:"creditAccountId"`
	Amount           json.Number `json:"amount"`
	Narration        string  `json:"narration"`
	PaymentReference string  `json:"paymentReference"`
}

type sudoTransfer struct {
	ID              string          `json:"_id"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	ResponseMessage string          `json:"responseMessage"`
	PaymentRef      string          `json:"paymentReference"`
}

type sudoEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

// Rail implements Adapter.
func (a *SudoAdapter) Rail() Rail { return RailSudo }

// DebitAccountID implements Adapter.
func (a *SudoAdapter) DebitAccountID() string { return a.cfg.Accounts.DebitAccount() }

// TransferFunds implements Adapter.
func (a *SudoAdapter) TransferFunds(ctx context.Context, req TransferRequest) (Result, error) {
	places := money.Places(req.Currency)
	payload := sudoTransferPayload{
		DebitAccountID:   req.DebitAccountID,
		CreditAccountID:  req.CreditAccountID,
		Amount:           json.Number(req.Amount.Round(places).StringFixed(places)),
		Narration:        req.Narration,
		PaymentReference: req.Reference,
	}

	var env sudoEnvelope
	err := doJSON(ctx, a.client, http.MethodPost, a.cfg.BaseURL+"/accounts/transfer", a.headers(), payload, &env)
	if err != nil {
		return a.rejection(err)
	}
	return a.decode(env)
}

// QueryTransfer implements Adapter.
func (a *SudoAdapter) QueryTransfer(ctx context.Context, reference string) (Result, error) {
	endpoint := a.cfg.BaseURL + "/accounts/transfers?paymentReference=" + url.QueryEscape(reference)
	var env sudoEnvelope
	if err := doJSON(ctx, a.client, http.MethodGet, endpoint, a.headers(), nil, &env); err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.status == http.StatusNotFound {
			return Result{Outcome: OutcomeFailed, Reason: ReasonNotFound, Message: "transfer not found"}, nil
		}
		return a.rejection(err)
	}
	return a.decode(env)
}

func (a *SudoAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.cfg.APIKey}
}

func (a *SudoAdapter) decode(env sudoEnvelope) (Result, error) {
	var t sudoTransfer
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return Result{}, fmt.Errorf("%w: decode sudo transfer: %v", ErrUnknownOutcome, err)
		}
	}

	res := Result{
		TransferID: t.ID,
		Amount:     t.Amount,
		Status:     t.Status,
		Message:    firstNonEmpty(t.ResponseMessage, env.Message),
	}
	switch strings.ToLower(t.Status) {
	case "completed":
		res.Outcome = OutcomeCompleted
	case "pending":
		res.Outcome = OutcomePending
	default:
		res.Outcome = OutcomeFailed
		res.Reason = ReasonRejected
		if containsInsufficientFunds(res.Message) {
			res.Reason = ReasonInsufficientFunds
		}
	}
	return res, nil
}

func (a *SudoAdapter) rejection(err error) (Result, error) {
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) {
		return Result{}, err
	}
	if statusErr.status >= http.StatusInternalServerError {
		return Result{}, fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	var env sudoEnvelope
	_ = json.Unmarshal(statusErr.body, &env)
	res := Result{Outcome: OutcomeFailed, Reason: ReasonRejected, Message: env.Message}
	if containsInsufficientFunds(env.Message) {
		res.Reason = ReasonInsufficientFunds
	}
	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
