package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/apperror"
	"github.com/congo-pay/cardrail/internal/gateway"
	"github.com/congo-pay/cardrail/internal/ledger"
	"github.com/congo-pay/cardrail/internal/metrics"
	"github.com/congo-pay/cardrail/internal/money"
	"github.com/congo-pay/cardrail/internal/notification"
	"github.com/congo-pay/cardrail/internal/pricing"
)

const opTransfer = "wallet_transfer"

// Deps are the collaborators of the wallet transfer service.
type Deps struct {
	Mutator *ledger.Mutator
	Fees    *pricing.Resolver
	// FallbackFees holds the fee percentage per currency pair applied when no
	// fee rule matches. A pair missing from it rejects the transfer.
	FallbackFees money.PairTable
	Notifier     notification.Notifier
	Metrics      *metrics.Collectors
	Logger       *slog.Logger
	NewReference func(prefix string) string
	Now          func() time.Time
}

// Service moves value between two wallets of the same company. No external
// rail is involved.
type Service struct {
	mutator      *ledger.Mutator
	store        ledger.Store
	fees         *pricing.Resolver
	fallbackFees money.PairTable
	notifier     notification.Notifier
	metrics      *metrics.Collectors
	logger       *slog.Logger
	newRef       func(prefix string) string
	now          func() time.Time
}

// NewService constructs a payment service.
func NewService(deps Deps) (*Service, error) {
	if deps.Mutator == nil {
		return nil, fmt.Errorf("ledger mutator is required")
	}
	if deps.Fees == nil {
		return nil, fmt.Errorf("fee resolver is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewReference == nil {
		deps.NewReference = gateway.NewReference
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		mutator:      deps.Mutator,
		store:        deps.Mutator.Store(),
		fees:         deps.Fees,
		fallbackFees: deps.FallbackFees,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With("component", "payments"),
		newRef:       deps.NewReference,
		now:          deps.Now,
	}, nil
}

// TransferInput captures the data needed to move funds between wallets.
type TransferInput struct {
	CompanyID    string
	UserID       string
	FromWalletID string
	ToWalletID   string
	Amount       decimal.Decimal
	Reason       string
	// ClientReference makes the transfer idempotent when set. A reused value
	// is rejected as a conflict.
	ClientReference string
}

// Quote is the fee and conversion of a transfer before it is committed.
type Quote struct {
	FromCurrency    string
	ToCurrency      string
	Amount          decimal.Decimal
	FeePercentage   decimal.Decimal
	FeeAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	ExchangeRate    decimal.Decimal
	ConvertedAmount decimal.Decimal
	FallbackFee     bool
}

// TransferResult describes the ledger outcome of a wallet transfer.
type TransferResult struct {
	Quote
	TransactionID       string
	CreditTransactionID string
	Reference           string
	FromBalance         decimal.Decimal
	ToBalance           decimal.Decimal
	CompletedAt         time.Time
}

// TransferBetween debits the source wallet by amount plus fee and credits the
// destination with the converted amount. Both legs commit together.
func (s *Service) TransferBetween(ctx context.Context, in TransferInput) (TransferResult, error) {
	from, to, err := s.pair(ctx, in.CompanyID, in.FromWalletID, in.ToWalletID, in.Amount)
	if err != nil {
		return TransferResult{}, s.reject(err)
	}
	quote, err := s.quote(ctx, in.CompanyID, from, to, in.Amount)
	if err != nil {
		return TransferResult{}, s.reject(err)
	}
	if from.Balance.LessThan(quote.TotalAmount) {
		return TransferResult{}, s.reject(apperror.InsufficientFunds(
			fmt.Sprintf("insufficient balance: %s required", money.Format(quote.TotalAmount, from.Currency))))
	}

	reference := in.ClientReference
	if reference == "" {
		reference = s.newRef("w2w")
	}
	narration := in.Reason
	if narration == "" {
		narration = fmt.Sprintf("Transfer %s to %s", from.Currency, to.Currency)
	}
	rate := decimal.NewNullDecimal(quote.ExchangeRate)

	txs, err := s.mutator.Commit(ctx,
		ledger.Leg{
			Transaction: ledger.Transaction{
				Category:      ledger.CategoryWallet,
				Type:          ledger.TypeWalletToWallet,
				Status:        ledger.StatusSuccess,
				Amount:        quote.Amount,
				Currency:      from.Currency,
				CompanyID:     in.CompanyID,
				UserID:        in.UserID,
				FeeAmount:     quote.FeeAmount,
				NetAmount:     quote.Amount,
				AmountWithFee: quote.TotalAmount,
				ExchangeRate:  rate,
				Reference:     reference + "-D",
				OrderID:       reference,
				Narration:     narration,
			},
			WalletID:    from.ID,
			WalletDelta: quote.TotalAmount.Neg(),
		},
		ledger.Leg{
			Transaction: ledger.Transaction{
				Category:      ledger.CategoryWallet,
				Type:          ledger.TypeWalletToWallet,
				Status:        ledger.StatusSuccess,
				Amount:        quote.ConvertedAmount,
				Currency:      to.Currency,
				CompanyID:     in.CompanyID,
				UserID:        in.UserID,
				FeeAmount:     decimal.Zero,
				NetAmount:     quote.ConvertedAmount,
				AmountWithFee: quote.ConvertedAmount,
				ExchangeRate:  rate,
				Reference:     reference + "-C",
				OrderID:       reference,
				Narration:     narration,
			},
			WalletID:    to.ID,
			WalletDelta: quote.ConvertedAmount,
		},
	)
	if err != nil {
		return TransferResult{}, s.reject(commitError(err))
	}

	debit, credit := txs[0], txs[1]
	result := TransferResult{
		Quote:               quote,
		TransactionID:       debit.ID,
		CreditTransactionID: credit.ID,
		Reference:           reference,
		FromBalance:         debit.WalletBalanceAfter.Decimal,
		ToBalance:           credit.WalletBalanceAfter.Decimal,
		CompletedAt:         s.now(),
	}

	s.metrics.Settlement(opTransfer, "success")
	s.logger.Info("wallet transfer committed",
		slog.String("company_id", in.CompanyID),
		slog.String("from_wallet_id", from.ID),
		slog.String("to_wallet_id", to.ID),
		slog.String("amount", quote.Amount.String()),
		slog.String("fee", quote.FeeAmount.String()),
		slog.String("converted", quote.ConvertedAmount.String()),
		slog.String("reference", reference))
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindWalletTransfer,
		Destination: in.CompanyID,
		Body: fmt.Sprintf("Transferred %s to wallet %s (%s)",
			money.Format(quote.Amount, from.Currency), to.ID, money.Format(quote.ConvertedAmount, to.Currency)),
		Attributes: map[string]string{"reference": reference, "transaction_id": debit.ID},
	})
	return result, nil
}

// FeeQuery identifies the transfer whose fees are being estimated.
type FeeQuery struct {
	CompanyID    string
	FromWalletID string
	ToWalletID   string
	Amount       decimal.Decimal
}

// CalculateTransferFees quotes a transfer without moving any value. The source
// balance is not checked.
func (s *Service) CalculateTransferFees(ctx context.Context, q FeeQuery) (Quote, error) {
	from, to, err := s.pair(ctx, q.CompanyID, q.FromWalletID, q.ToWalletID, q.Amount)
	if err != nil {
		return Quote{}, err
	}
	return s.quote(ctx, q.CompanyID, from, to, q.Amount)
}

// GetAvailableWallets lists the company's active wallets that can take part
// in a transfer, ordered by currency. excludeWalletID, when set, is omitted.
func (s *Service) GetAvailableWallets(ctx context.Context, companyID, excludeWalletID string) ([]ledger.Wallet, error) {
	wallets, err := s.store.Wallets(ctx, ledger.WalletFilter{CompanyID: companyID, ActiveOnly: true})
	if err != nil {
		return nil, apperror.Persistence("list wallets", err)
	}
	out := wallets[:0]
	for _, w := range wallets {
		if w.ID != excludeWalletID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Currency != out[j].Currency {
			return out[i].Currency < out[j].Currency
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Service) pair(ctx context.Context, companyID, fromID, toID string, amount decimal.Decimal) (ledger.Wallet, ledger.Wallet, error) {
	if fromID == "" || toID == "" {
		return ledger.Wallet{}, ledger.Wallet{}, apperror.Validation("source and destination wallets are required")
	}
	if fromID == toID {
		return ledger.Wallet{}, ledger.Wallet{}, apperror.Validation("source and destination wallets must differ")
	}
	if !amount.IsPositive() {
		return ledger.Wallet{}, ledger.Wallet{}, apperror.Validation("amount must be greater than zero")
	}
	from, err := s.activeWallet(ctx, companyID, fromID, "source")
	if err != nil {
		return ledger.Wallet{}, ledger.Wallet{}, err
	}
	if err := money.CheckPlaces(amount, from.Currency); err != nil {
		return ledger.Wallet{}, ledger.Wallet{}, apperror.Validation(err.Error())
	}
	to, err := s.activeWallet(ctx, companyID, toID, "destination")
	if err != nil {
		return ledger.Wallet{}, ledger.Wallet{}, err
	}
	return from, to, nil
}

func (s *Service) activeWallet(ctx context.Context, companyID, id, side string) (ledger.Wallet, error) {
	w, err := s.store.Wallet(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Wallet{}, apperror.NotFound(side + " wallet not found")
		}
		return ledger.Wallet{}, apperror.Persistence("load wallet", err)
	}
	if w.CompanyID != companyID || !w.Active {
		return ledger.Wallet{}, apperror.NotFound(side + " wallet not found or inactive")
	}
	return w, nil
}

// quote resolves the fee in the source currency and the converted amount in
// the destination currency. Rounding happens once per output amount. A
// same-currency pair is free and converts at 1.
func (s *Service) quote(ctx context.Context, companyID string, from, to ledger.Wallet, amount decimal.Decimal) (Quote, error) {
	q := Quote{FromCurrency: from.Currency, ToCurrency: to.Currency, Amount: amount}
	if strings.EqualFold(from.Currency, to.Currency) {
		q.TotalAmount = amount
		q.ExchangeRate = decimal.NewFromInt(1)
		q.ConvertedAmount = amount
		return q, nil
	}

	fee, err := s.fees.ResolveFee(ctx, pricing.FeeKey{
		CompanyID:           companyID,
		TransactionType:     string(ledger.TypeWalletToWallet),
		TransactionCategory: string(ledger.CategoryWallet),
		CountryISOCode:      from.CountryISOCode,
		Currency:            from.Currency,
	}, amount)
	switch {
	case err == nil:
		q.FeePercentage = fee.Percentage
		q.FeeAmount = fee.Amount
	case errors.Is(err, pricing.ErrRuleNotFound):
		pct, ok := s.fallbackFees.Lookup(from.Currency, to.Currency)
		if !ok {
			return Quote{}, apperror.Validation(fmt.Sprintf("no transfer fee configured for %s to %s", from.Currency, to.Currency))
		}
		q.FeePercentage = pct
		q.FeeAmount = money.Percent(amount, pct)
		q.FallbackFee = true
	default:
		return Quote{}, apperror.Persistence("resolve fee", err)
	}
	q.FeeAmount = money.Round(q.FeeAmount, from.Currency)
	q.TotalAmount = amount.Add(q.FeeAmount)

	rate, err := s.fees.ResolveRate(ctx, companyID, from.Currency, to.Currency)
	if err != nil {
		if errors.Is(err, pricing.ErrRateNotFound) {
			return Quote{}, apperror.Validation(fmt.Sprintf("no exchange rate for %s to %s", from.Currency, to.Currency))
		}
		return Quote{}, apperror.Persistence("resolve exchange rate", err)
	}
	q.ExchangeRate = rate
	q.ConvertedAmount = money.Round(amount.Mul(rate), to.Currency)
	if !q.ConvertedAmount.IsPositive() {
		return Quote{}, apperror.Validation("amount is too small to convert")
	}
	return q, nil
}

func (s *Service) reject(err error) error {
	result := "rejected"
	if errors.Is(err, apperror.ErrPersistence) {
		result = "persistence_failure"
	}
	s.metrics.Settlement(opTransfer, result)
	return err
}

func commitError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return apperror.InsufficientFunds("insufficient balance")
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return apperror.Conflict("duplicate transfer reference", err)
	case errors.Is(err, ledger.ErrNotFound):
		return apperror.NotFound("wallet not found")
	default:
		return apperror.Persistence("operation failed, retry later", err)
	}
}
