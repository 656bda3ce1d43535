package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/apperror"
	"github.com/congo-pay/cardrail/internal/gateway"
	"github.com/congo-pay/cardrail/internal/ledger"
	"github.com/congo-pay/cardrail/internal/metrics"
	"github.com/congo-pay/cardrail/internal/money"
	"github.com/congo-pay/cardrail/internal/notification"
	"github.com/congo-pay/cardrail/internal/pricing"
	"github.com/congo-pay/cardrail/internal/withdrawal"
)

const (
	opPayout = "payout"

	// StatusSuccess means the payout was disbursed and committed.
	StatusSuccess = "SUCCESS"
	// StatusQueued means the payout was deferred to the pending queue.
	StatusQueued = "QUEUED"
)

// Enqueuer defers a payout.
type Enqueuer interface {
	AddToQueue(ctx context.Context, req withdrawal.Request) (withdrawal.Queued, error)
}

// Deps are the collaborators of the payout service.
type Deps struct {
	Mutator           *ledger.Mutator
	Fees              *pricing.Resolver
	Rail              Rail
	Queue             Enqueuer
	DefaultFeePercent decimal.Decimal
	Notifier          notification.Notifier
	Metrics           *metrics.Collectors
	Logger            *slog.Logger
	NewReference      func(prefix string) string
}

// Service pays out from a wallet's payout balance, deferring to the queue
// when the rail is short of liquidity or its outcome is unknown.
type Service struct {
	mutator    *ledger.Mutator
	store      ledger.Store
	fees       *pricing.Resolver
	rail       Rail
	queue      Enqueuer
	defaultPct decimal.Decimal
	notifier   notification.Notifier
	metrics    *metrics.Collectors
	logger     *slog.Logger
	newRef     func(prefix string) string
}

// NewService validates deps and builds the service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Mutator == nil:
		return nil, fmt.Errorf("ledger mutator is required")
	case deps.Fees == nil:
		return nil, fmt.Errorf("fee resolver is required")
	case deps.Rail == nil:
		return nil, fmt.Errorf("payout rail is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("withdrawal queue is required")
	}
	if !deps.DefaultFeePercent.IsPositive() {
		deps.DefaultFeePercent = decimal.NewFromInt(2)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewReference == nil {
		deps.NewReference = gateway.NewReference
	}
	return &Service{
		mutator:    deps.Mutator,
		store:      deps.Mutator.Store(),
		fees:       deps.Fees,
		rail:       deps.Rail,
		queue:      deps.Queue,
		defaultPct: deps.DefaultFeePercent,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With("component", "payout"),
		newRef:     deps.NewReference,
	}, nil
}

// WithdrawalInput is a payout request from a wallet's payout balance.
type WithdrawalInput struct {
	CompanyID   string
	UserID      string
	WalletID    string
	Amount      decimal.Decimal
	PhoneNumber string
	Operator    string
	Reason      string
	// Priority orders the row in the withdrawal queue if it has to wait.
	Priority int
}

// WithdrawalResult reports a disbursed or queued payout.
type WithdrawalResult struct {
	Status                string
	Message               string
	TransactionID         string
	QueueID               string
	Reference             string
	ProviderTransactionID string
	Amount                decimal.Decimal
	FeeAmount             decimal.Decimal
	TotalAmount           decimal.Decimal
	PayoutBalance         decimal.Decimal
	Currency              string
}

// ProcessWithdrawal disburses amount to the phone number. A liquidity
// shortfall or an unknown rail outcome queues the payout with its reference
// and the caller sees QUEUED.
func (s *Service) ProcessWithdrawal(ctx context.Context, in WithdrawalInput) (WithdrawalResult, error) {
	if in.PhoneNumber == "" || in.Operator == "" {
		return WithdrawalResult{}, s.reject(apperror.Validation("phone number and operator are required"))
	}
	if !in.Amount.IsPositive() {
		return WithdrawalResult{}, s.reject(apperror.Validation("amount must be greater than zero"))
	}
	if in.Priority < 0 || in.Priority > withdrawal.MaxPriority {
		return WithdrawalResult{}, s.reject(apperror.Validation(fmt.Sprintf("priority must be between 0 and %d", withdrawal.MaxPriority)))
	}
	wallet, err := s.wallet(ctx, in.CompanyID, in.WalletID)
	if err != nil {
		return WithdrawalResult{}, s.reject(err)
	}
	if err := money.CheckPlaces(in.Amount, wallet.Currency); err != nil {
		return WithdrawalResult{}, s.reject(apperror.Validation(err.Error()))
	}

	fee, err := s.fees.ResolveFeeOrPercent(ctx, pricing.FeeKey{
		CompanyID:           in.CompanyID,
		TransactionType:     string(ledger.TypeExternalWithdraw),
		TransactionCategory: string(ledger.CategoryWallet),
		CountryISOCode:      wallet.CountryISOCode,
		Currency:            wallet.Currency,
	}, in.Amount, s.defaultPct)
	if err != nil {
		return WithdrawalResult{}, s.reject(apperror.Persistence("resolve withdrawal fee", err))
	}
	feeAmount := money.Round(fee.Amount, wallet.Currency)
	total := in.Amount.Add(feeAmount)
	if wallet.PayoutBalance.LessThan(total) {
		return WithdrawalResult{}, s.reject(apperror.InsufficientFunds(
			fmt.Sprintf("insufficient payout balance: %s required", money.Format(total, wallet.Currency))))
	}

	reference := s.newRef("payout")
	pending := withdrawal.PendingWithdrawal{
		WalletID:    wallet.ID,
		Amount:      in.Amount,
		FeeAmount:   feeAmount,
		TotalAmount: total,
		PhoneNumber: in.PhoneNumber,
		Operator:    in.Operator,
		Reason:      in.Reason,
		CompanyID:   in.CompanyID,
		UserID:      in.UserID,
		Currency:    wallet.Currency,
		Reference:   reference,
		Priority:    in.Priority,
	}

	liquidity, err := s.rail.Liquidity(ctx, wallet.Currency)
	if err != nil {
		s.logger.Warn("payout liquidity unavailable, queueing",
			slog.String("wallet_id", wallet.ID), slog.String("reference", reference), slog.Any("error", err))
		return s.enqueue(ctx, wallet, pending, "liquidity check failed: "+err.Error())
	}
	if liquidity.LessThan(total) {
		return s.enqueue(ctx, wallet, pending,
			fmt.Sprintf("rail liquidity %s below %s", liquidity.String(), total.String()))
	}

	receipt, err := s.disburse(ctx, pending)
	if err != nil {
		if errors.Is(err, ErrLiquidityShort) || errors.Is(err, gateway.ErrUnknownOutcome) {
			s.logger.Warn("payout deferred",
				slog.String("wallet_id", wallet.ID), slog.String("reference", reference), slog.Any("error", err))
			return s.enqueue(ctx, wallet, pending, err.Error())
		}
		s.metrics.Settlement(opPayout, "rail_failure")
		s.logger.Error("payout failed",
			slog.String("wallet_id", wallet.ID),
			slog.String("company_id", in.CompanyID),
			slog.String("amount", in.Amount.String()),
			slog.String("reference", reference),
			slog.Any("error", err))
		if errors.Is(err, ErrRejected) {
			return WithdrawalResult{}, apperror.RailFailure("payout rejected by the provider", err)
		}
		return WithdrawalResult{}, apperror.RailFailure("operation failed, retry later", err)
	}

	tx, err := s.commit(ctx, pending, receipt)
	if err != nil {
		return WithdrawalResult{}, s.unreconciled(ctx, pending, receipt, err)
	}

	s.metrics.Settlement(opPayout, "success")
	return WithdrawalResult{
		Status:                StatusSuccess,
		Message:               "withdrawal processed",
		TransactionID:         tx.ID,
		Reference:             reference,
		ProviderTransactionID: receipt.TransactionID,
		Amount:                in.Amount,
		FeeAmount:             feeAmount,
		TotalAmount:           total,
		PayoutBalance:         tx.WalletBalanceAfter.Decimal,
		Currency:              wallet.Currency,
	}, nil
}

// Liquidity implements withdrawal.Executor.
func (s *Service) Liquidity(ctx context.Context, currency string) (decimal.Decimal, error) {
	return s.rail.Liquidity(ctx, currency)
}

// ExecuteQueued implements withdrawal.Executor. It reuses the row's reference
// so a disbursement that timed out earlier is never paid twice.
func (s *Service) ExecuteQueued(ctx context.Context, w withdrawal.PendingWithdrawal) (string, error) {
	wallet, err := s.wallet(ctx, w.CompanyID, w.WalletID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", withdrawal.ErrPermanent, err)
		}
		return "", err
	}
	if wallet.PayoutBalance.LessThan(w.TotalAmount) {
		return "", fmt.Errorf("insufficient payout balance: %s available, %s required", wallet.PayoutBalance, w.TotalAmount)
	}

	receipt, err := s.disburse(ctx, w)
	if err != nil {
		if errors.Is(err, ErrLiquidityShort) || errors.Is(err, gateway.ErrUnknownOutcome) {
			return "", fmt.Errorf("%w: %w", withdrawal.ErrRetryLater, err)
		}
		return "", err
	}

	tx, err := s.commit(ctx, w, receipt)
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		existing, lerr := s.store.Transactions(ctx, ledger.TransactionFilter{Reference: w.Reference, Limit: 1})
		if lerr == nil && len(existing) == 1 {
			return existing[0].ID, nil
		}
	}
	if err != nil {
		return "", s.unreconciled(ctx, w, receipt, err)
	}
	s.metrics.Settlement(opPayout, "success")
	return tx.ID, nil
}

func (s *Service) disburse(ctx context.Context, w withdrawal.PendingWithdrawal) (Receipt, error) {
	narration := w.Reason
	if narration == "" {
		narration = "Wallet payout"
	}
	return s.rail.Disburse(ctx, Disbursement{
		Reference:   w.Reference,
		PhoneNumber: w.PhoneNumber,
		Operator:    w.Operator,
		Amount:      w.Amount,
		Currency:    w.Currency,
		Narration:   narration,
	})
}

// commit debits the payout balance by the total and accumulates the
// disbursed amount.
func (s *Service) commit(ctx context.Context, w withdrawal.PendingWithdrawal, receipt Receipt) (ledger.Transaction, error) {
	txs, err := s.mutator.Commit(ctx, ledger.Leg{
		Transaction: ledger.Transaction{
			Category:      ledger.CategoryWallet,
			Type:          ledger.TypeExternalWithdraw,
			Status:        ledger.StatusSuccess,
			Amount:        w.Amount,
			Currency:      w.Currency,
			CompanyID:     w.CompanyID,
			UserID:        w.UserID,
			FeeAmount:     w.FeeAmount,
			NetAmount:     w.Amount,
			AmountWithFee: w.TotalAmount,
			Reference:     w.Reference,
			OrderID:       receipt.TransactionID,
			Narration:     fmt.Sprintf("Payout to %s via %s", w.PhoneNumber, w.Operator),
		},
		WalletID:          w.WalletID,
		Pool:              ledger.PoolPayout,
		WalletDelta:       w.TotalAmount.Neg(),
		PayoutAmountDelta: w.Amount,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return txs[0], nil
}

func (s *Service) enqueue(ctx context.Context, wallet ledger.Wallet, w withdrawal.PendingWithdrawal, cause string) (WithdrawalResult, error) {
	queued, err := s.queue.AddToQueue(ctx, withdrawal.Request{
		WalletID:       w.WalletID,
		Amount:         w.Amount,
		PhoneNumber:    w.PhoneNumber,
		Operator:       w.Operator,
		Reason:         w.Reason,
		CompanyID:      w.CompanyID,
		UserID:         w.UserID,
		Currency:       w.Currency,
		CountryISOCode: wallet.CountryISOCode,
		Reference:      w.Reference,
		Priority:       w.Priority,
		FeeAmount:      decimal.NewNullDecimal(w.FeeAmount),
		Cause:          cause,
	})
	if err != nil {
		s.metrics.Settlement(opPayout, "queue_failure")
		return WithdrawalResult{}, err
	}
	s.metrics.Settlement(opPayout, "queued")
	return WithdrawalResult{
		Status:        StatusQueued,
		Message:       "withdrawal queued until payout funds are available",
		QueueID:       queued.QueueID,
		Reference:     queued.Reference,
		Amount:        w.Amount,
		FeeAmount:     queued.FeeAmount,
		TotalAmount:   queued.TotalAmount,
		PayoutBalance: wallet.PayoutBalance,
		Currency:      w.Currency,
	}, nil
}

func (s *Service) wallet(ctx context.Context, companyID, id string) (ledger.Wallet, error) {
	w, err := s.store.Wallet(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Wallet{}, apperror.NotFound("wallet not found")
		}
		return ledger.Wallet{}, apperror.Persistence("load wallet", err)
	}
	if w.CompanyID != companyID || !w.Active {
		return ledger.Wallet{}, apperror.NotFound("wallet not found or inactive")
	}
	return w, nil
}

func (s *Service) reject(err error) error {
	s.metrics.Settlement(opPayout, "rejected")
	return err
}

func (s *Service) unreconciled(ctx context.Context, w withdrawal.PendingWithdrawal, receipt Receipt, cause error) error {
	s.metrics.Settlement(opPayout, "unreconciled")
	s.logger.Error("payout disbursed but local commit failed",
		slog.String("wallet_id", w.WalletID),
		slog.String("company_id", w.CompanyID),
		slog.String("amount", w.Amount.String()),
		slog.String("reference", w.Reference),
		slog.String("provider_transaction_id", receipt.TransactionID),
		slog.Any("error", cause))
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindSettlementUnreconciled,
		Destination: w.CompanyID,
		Body:        "payout disbursed but local commit failed",
		Attributes: map[string]string{
			"operation":   opPayout,
			"wallet_id":   w.WalletID,
			"amount":      w.Amount.String(),
			"reference":   w.Reference,
			"transfer_id": receipt.TransactionID,
		},
	})
	return apperror.Persistence("operation failed, retry later", cause)
}
