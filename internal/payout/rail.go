package payout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/gateway"
)

var (
	// ErrLiquidityShort is returned when the rail cannot fund a disbursement.
	ErrLiquidityShort = errors.New("payout rail liquidity insufficient")
	// ErrRejected is returned when the rail refuses a disbursement outright.
	ErrRejected = errors.New("payout rejected by rail")
)

// Disbursement is one outbound mobile-money or bank payout.
type Disbursement struct {
	Reference   string
	PhoneNumber string
	Operator    string
	Amount      decimal.Decimal
	Currency    string
	Narration   string
}

// Receipt is the rail's acknowledgement of an accepted disbursement.
type Receipt struct {
	TransactionID string
	Status        string
}

// Rail is the outbound payout network.
type Rail interface {
	Liquidity(ctx context.Context, currency string) (decimal.Decimal, error)
	// Disburse pays d. Timeouts wrap gateway.ErrUnknownOutcome; a reference
	// submitted before returns the original receipt.
	Disburse(ctx context.Context, d Disbursement) (Receipt, error)
}

// HTTPRailConfig configures the payout aggregator API.
type HTTPRailConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPRail talks to a payout aggregator over JSON.
type HTTPRail struct {
	cfg    HTTPRailConfig
	client *gateway.JSONClient
}

// NewHTTPRail builds the payout rail client with a bounded timeout.
func NewHTTPRail(cfg HTTPRailConfig) *HTTPRail {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPRail{cfg: cfg, client: gateway.NewJSONClient(cfg.Timeout)}
}

type balanceResponse struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
}

type disbursePayload struct {
	Reference   string `json:"reference"`
	PhoneNumber string `json:"phone_number"`
	Operator    string `json:"operator"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Narration   string `json:"narration"`
}

type disburseResponse struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (r *HTTPRail) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + r.cfg.APIKey}
}

// Liquidity returns the available payout balance in currency.
func (r *HTTPRail) Liquidity(ctx context.Context, currency string) (decimal.Decimal, error) {
	var out balanceResponse
	endpoint := r.cfg.BaseURL + "/balance?currency=" + url.QueryEscape(currency)
	if err := r.client.Do(ctx, http.MethodGet, endpoint, r.headers(), nil, &out); err != nil {
		return decimal.Zero, fmt.Errorf("payout liquidity: %w", err)
	}
	return out.Available, nil
}

// Disburse submits d. A 409 means the reference is known, so the original
// disbursement is fetched instead.
func (r *HTTPRail) Disburse(ctx context.Context, d Disbursement) (Receipt, error) {
	var out disburseResponse
	err := r.client.Do(ctx, http.MethodPost, r.cfg.BaseURL+"/disbursements", r.headers(), disbursePayload{
		Reference:   d.Reference,
		PhoneNumber: d.PhoneNumber,
		Operator:    d.Operator,
		Amount:      d.Amount.String(),
		Currency:    d.Currency,
		Narration:   d.Narration,
	}, &out)
	if err != nil {
		status, body, ok := gateway.ResponseStatus(err)
		switch {
		case ok && status == http.StatusConflict:
			return r.lookup(ctx, d.Reference)
		case ok && status >= 500:
			return Receipt{}, fmt.Errorf("%w: %v", gateway.ErrUnknownOutcome, err)
		case ok && gateway.InsufficientFunds(string(body)):
			return Receipt{}, fmt.Errorf("%w: %s", ErrLiquidityShort, strings.TrimSpace(string(body)))
		case ok:
			return Receipt{}, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return Receipt{}, err
	}
	return receipt(out)
}

func (r *HTTPRail) lookup(ctx context.Context, reference string) (Receipt, error) {
	var out disburseResponse
	endpoint := r.cfg.BaseURL + "/disbursements/" + url.PathEscape(reference)
	if err := r.client.Do(ctx, http.MethodGet, endpoint, r.headers(), nil, &out); err != nil {
		return Receipt{}, fmt.Errorf("%w: lookup %s: %v", gateway.ErrUnknownOutcome, reference, err)
	}
	return receipt(out)
}

func receipt(out disburseResponse) (Receipt, error) {
	switch strings.ToUpper(out.Status) {
	case "SUCCESSFUL", "SUCCESS", "COMPLETED", "PENDING":
		if out.ID == "" {
			return Receipt{}, fmt.Errorf("%w: accepted without transaction id", gateway.ErrUnknownOutcome)
		}
		return Receipt{TransactionID: out.ID, Status: strings.ToUpper(out.Status)}, nil
	case "FAILED", "REJECTED":
		if gateway.InsufficientFunds(out.Message) {
			return Receipt{}, fmt.Errorf("%w: %s", ErrLiquidityShort, out.Message)
		}
		return Receipt{}, fmt.Errorf("%w: %s", ErrRejected, out.Message)
	default:
		return Receipt{}, fmt.Errorf("%w: status %q", gateway.ErrUnknownOutcome, out.Status)
	}
}

// StaticRail is an in-process payout rail with a configurable balance per
// currency. Disbursements draw the balance down.
type StaticRail struct {
	mu        sync.Mutex
	liquidity map[string]decimal.Decimal
	receipts  map[string]Receipt
	// Fail, when set, is consulted before every disbursement.
	Fail func(d Disbursement) error
	// LiquidityErr, when set, is returned by Liquidity.
	LiquidityErr error
}

// NewStaticRail builds a static rail seeded with liquidity.
func NewStaticRail(liquidity map[string]decimal.Decimal) *StaticRail {
	l := make(map[string]decimal.Decimal, len(liquidity))
	for c, a := range liquidity {
		l[strings.ToUpper(c)] = a
	}
	return &StaticRail{liquidity: l, receipts: make(map[string]Receipt)}
}

// SetLiquidity replaces the available balance of currency.
func (r *StaticRail) SetLiquidity(currency string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liquidity[strings.ToUpper(currency)] = amount
}

// Liquidity implements Rail.
func (r *StaticRail) Liquidity(_ context.Context, currency string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.LiquidityErr != nil {
		return decimal.Zero, r.LiquidityErr
	}
	return r.liquidity[strings.ToUpper(currency)], nil
}

// Disburse implements Rail.
func (r *StaticRail) Disburse(_ context.Context, d Disbursement) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc, ok := r.receipts[d.Reference]; ok {
		return rc, nil
	}
	if r.Fail != nil {
		if err := r.Fail(d); err != nil {
			return Receipt{}, err
		}
	}
	currency := strings.ToUpper(d.Currency)
	if r.liquidity[currency].LessThan(d.Amount) {
		return Receipt{}, fmt.Errorf("%w: %s available", ErrLiquidityShort, r.liquidity[currency])
	}
	r.liquidity[currency] = r.liquidity[currency].Sub(d.Amount)
	rc := Receipt{TransactionID: uuid.NewString(), Status: "SUCCESSFUL"}
	r.receipts[d.Reference] = rc
	return rc, nil
}

// Disbursed reports how many distinct references were paid.
func (r *StaticRail) Disbursed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.receipts)
}
