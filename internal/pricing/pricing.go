package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/money"
)

var (
	// ErrRuleNotFound is a recoverable outcome: callers apply their fallback.
	ErrRuleNotFound = errors.New("fee rule not found")
	// ErrRateNotFound is returned when neither a stored nor a fallback rate exists.
	ErrRateNotFound = errors.New("exchange rate not found")
)

// FeeType selects how a fee rule is computed.
type FeeType string

const (
	FeeFixed      FeeType = "FIXED"
	FeePercentage FeeType = "PERCENTAGE"
)

// FeeKey is the exact-match composite key of a fee rule. Matching ignores
// the case of every component except CompanyID.
type FeeKey struct {
	CompanyID           string
	TransactionType     string
	TransactionCategory string
	CountryISOCode      string
	Currency            string
}

func (k FeeKey) normalize() FeeKey {
	k.TransactionType = strings.ToUpper(k.TransactionType)
	k.TransactionCategory = strings.ToUpper(k.TransactionCategory)
	k.CountryISOCode = strings.ToUpper(k.CountryISOCode)
	k.Currency = strings.ToUpper(k.Currency)
	return k
}

// TransactionFee is a fee rule administered outside the engine.
type TransactionFee struct {
	ID            string          `json:"id"`
	Key           FeeKey          `json:"key"`
	Type          FeeType         `json:"type"`
	Value         decimal.Decimal `json:"value"`
	FeeFixed      decimal.Decimal `json:"fee_fixed"`
	FeePercentage decimal.Decimal `json:"fee_percentage"`
	Active        bool            `json:"active"`
	Description   string          `json:"description"`
}

// ExchangeRate converts one unit of From into Rate units of To.
type ExchangeRate struct {
	ID           string          `json:"id"`
	CompanyID    string          `json:"company_id"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	Active       bool            `json:"active"`
}

// Repository reads persisted fee rules and rates. Missing rows are reported
// as ErrRuleNotFound / ErrRateNotFound.
type Repository interface {
	Fee(ctx context.Context, key FeeKey) (TransactionFee, error)
	Rate(ctx context.Context, companyID, from, to string) (ExchangeRate, error)
}

// Fee is a resolved fee. Amounts are unrounded.
type Fee struct {
	Amount     decimal.Decimal
	Type       FeeType
	Value      decimal.Decimal
	Fixed      decimal.Decimal
	Percentage decimal.Decimal
	// Fallback is set when no rule matched and a default percentage was applied.
	Fallback bool
}

// Resolver answers fee and exchange-rate questions.
type Resolver struct {
	repo          Repository
	fallbackRates money.PairTable
	logger        *slog.Logger
}

// NewResolver builds a resolver. fallbackRates is consulted only after both
// the direct and the reverse stored rate are missing.
func NewResolver(repo Repository, fallbackRates money.PairTable, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, fallbackRates: fallbackRates, logger: logger.With("component", "pricing")}
}

// ResolveFee computes the fee for amount under the rule matching key.
func (r *Resolver) ResolveFee(ctx context.Context, key FeeKey, amount decimal.Decimal) (Fee, error) {
	rule, err := r.repo.Fee(ctx, key.normalize())
	if err != nil {
		return Fee{}, err
	}
	if !rule.Active {
		return Fee{}, ErrRuleNotFound
	}
	return Apply(rule, amount), nil
}

// ResolveFeeOrPercent resolves the fee and falls back to pct percent of amount
// when no rule exists. Other errors are returned unchanged.
func (r *Resolver) ResolveFeeOrPercent(ctx context.Context, key FeeKey, amount, pct decimal.Decimal) (Fee, error) {
	fee, err := r.ResolveFee(ctx, key, amount)
	if err == nil {
		return fee, nil
	}
	if !errors.Is(err, ErrRuleNotFound) {
		return Fee{}, err
	}
	r.logger.Debug("fee rule missing, applying fallback",
		slog.String("company_id", key.CompanyID),
		slog.String("type", key.TransactionType),
		slog.String("currency", key.Currency),
		slog.String("percentage", pct.String()))
	return Fee{
		Amount:     money.Percent(amount, pct),
		Type:       FeePercentage,
		Value:      pct,
		Percentage: pct,
		Fallback:   true,
	}, nil
}

// Apply evaluates rule for amount. PERCENTAGE rules use value, or
// fee_percentage when value is zero. fee_fixed is always added on top.
func Apply(rule TransactionFee, amount decimal.Decimal) Fee {
	fee := Fee{Type: rule.Type, Value: rule.Value, Fixed: rule.FeeFixed, Percentage: rule.FeePercentage}
	switch rule.Type {
	case FeePercentage:
		pct := rule.Value
		if pct.IsZero() {
			pct = rule.FeePercentage
		}
		fee.Percentage = pct
		fee.Amount = money.Percent(amount, pct)
	default:
		fee.Amount = rule.Value
	}
	if rule.FeeFixed.IsPositive() {
		fee.Amount = fee.Amount.Add(rule.FeeFixed)
	}
	return fee
}

// ResolveRate returns how many units of to one unit of from buys. Same
// currency is 1; then the direct rate, the inverted reverse rate, and the
// configured fallback are tried in that order.
func (r *Resolver) ResolveRate(ctx context.Context, companyID, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	direct, err := r.repo.Rate(ctx, companyID, from, to)
	switch {
	case err == nil && direct.Active && direct.Rate.IsPositive():
		return direct.Rate, nil
	case err != nil && !errors.Is(err, ErrRateNotFound):
		return decimal.Zero, err
	}

	reverse, err := r.repo.Rate(ctx, companyID, to, from)
	switch {
	case err == nil && reverse.Active && reverse.Rate.IsPositive():
		return decimal.NewFromInt(1).Div(reverse.Rate), nil
	case err != nil && !errors.Is(err, ErrRateNotFound):
		return decimal.Zero, err
	}

	if rate, ok := r.fallbackRates.Lookup(from, to); ok && rate.IsPositive() {
		r.logger.Warn("using fallback exchange rate",
			slog.String("company_id", companyID),
			slog.String("from", from),
			slog.String("to", to),
			slog.String("rate", rate.String()))
		return rate, nil
	}
	return decimal.Zero, fmt.Errorf("%s->%s: %w", from, to, ErrRateNotFound)
}
