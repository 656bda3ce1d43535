package funding

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
)

const (
	cardCurrency = "USD"

	opFund     = "fund_card"
	opWithdraw = "withdraw_card"

	msgRetryLater        = "operation failed, retry later"
	msgProviderNoFunds   = "insufficient funds on the provider account"
	msgCardNotFound      = "card not found"
	msgWalletNotFound    = "funding wallet not found or inactive"
	msgUnreconciledAlert = "external transfer succeeded but local commit failed"
)

var minimumAmount = decimal.NewFromInt(1)

// Deps are the collaborators of the card settlement service.
type Deps struct {
	Mutator  *ledger.Mutator
	Fees     *pricing.Resolver
	Rails    gateway.Registry
	Rail     gateway.Rail
	Notifier notification.Notifier
	Metrics  *metrics.Collectors
	Logger   *slog.Logger
	// NewReference generates idempotent payment references. Defaults to gateway.NewReference.
	NewReference func(prefix string) string
}

// Service moves value between a company wallet and a card through the card rail.
type Service struct {
	mutator  *ledger.Mutator
	store    ledger.Store
	fees     *pricing.Resolver
	rails    gateway.Registry
	rail     gateway.Rail
	notifier notification.Notifier
	metrics  *metrics.Collectors
	logger   *slog.Logger
	newRef   func(prefix string) string
}

// NewService validates deps and builds the service.
func NewService(deps Deps) (*Service, error) {
	if deps.Mutator == nil {
		return nil, fmt.Errorf("ledger mutator is required")
	}
	if deps.Fees == nil {
		return nil, fmt.Errorf("fee resolver is required")
	}
	if _, err := deps.Rails.Adapter(deps.Rail); err != nil {
		return nil, fmt.Errorf("card rail: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewReference == nil {
		deps.NewReference = gateway.NewReference
	}
	return &Service{
		mutator:  deps.Mutator,
		store:    deps.Mutator.Store(),
		fees:     deps.Fees,
		rails:    deps.Rails,
		rail:     deps.Rail,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With("component", "funding"),
		newRef:   deps.NewReference,
	}, nil
}

// CardInput identifies a card operation within the caller's company scope.
type CardInput struct {
	CompanyID string
	UserID    string
	CardID    string
	Amount    decimal.Decimal
}

// Result is the domain outcome of a fund or withdraw operation.
type Result struct {
	Status        ledger.Status
	Message       string
	TransactionID string
	Reference     string
	TransferID    string
	Fee           decimal.Decimal
	CardBalance   decimal.Decimal
	WalletBalance decimal.Decimal
}

// FundCard debits the company USD wallet and credits the card once the rail
// confirms a completed transfer.
func (s *Service) FundCard(ctx context.Context, in CardInput) (Result, error) {
	card, err := s.checkCard(ctx, in, false)
	if err != nil {
		return Result{}, s.reject(opFund, err)
	}
	wallet, err := s.fundingWallet(ctx, in.CompanyID)
	if err != nil {
		return Result{}, s.reject(opFund, err)
	}

	fee, err := s.cardFee(ctx, in, wallet, ledger.TypeFund)
	if err != nil {
		return Result{}, s.reject(opFund, err)
	}
	cost := in.Amount.Add(fee)
	if wallet.Balance.LessThan(cost) {
		return Result{}, s.reject(opFund, apperror.InsufficientFunds("insufficient wallet balance"))
	}

	adapter, err := s.rails.Adapter(card.Rail)
	if err != nil {
		return Result{}, s.reject(opFund, apperror.Validation("card provider not supported"))
	}
	req := gateway.TransferRequest{
		DebitAccountID:  adapter.DebitAccountID(),
		CreditAccountID: card.Reference,
		Amount:          in.Amount,
		Currency:        cardCurrency,
		Narration:       "Card funding",
		Reference:       s.newRef("fund"),
	}

	res, err := s.settle(ctx, adapter, req)
	if err != nil {
		return Result{}, s.railError(ctx, opFund, card, in, req.Reference, err)
	}
	if res.Outcome == gateway.OutcomePending {
		return Result{}, s.railPending(ctx, opFund, card, in, req.Reference, res)
	}
	if !res.Confirmed() {
		return Result{}, s.railRejected(ctx, opFund, card, in, req.Reference, res)
	}

	txs, err := s.mutator.Commit(ctx, ledger.Leg{
		Transaction: ledger.Transaction{
			Category:      ledger.CategoryCard,
			Type:          ledger.TypeFund,
			Status:        ledger.StatusSuccess,
			Amount:        in.Amount,
			Currency:      cardCurrency,
			CompanyID:     in.CompanyID,
			CustomerID:    card.CustomerID,
			UserID:        in.UserID,
			FeeAmount:     fee,
			NetAmount:     in.Amount,
			AmountWithFee: cost,
			Reference:     req.Reference,
			OrderID:       res.TransferID,
			Narration:     req.Narration,
		},
		WalletID:    wallet.ID,
		WalletDelta: cost.Neg(),
		CardID:      card.ID,
		CardDelta:   in.Amount,
	})
	if err != nil {
		return Result{}, s.unreconciled(ctx, opFund, card, wallet, in, req.Reference, res, err)
	}

	s.metrics.Settlement(opFund, "success")
	return resultFrom(txs[0], "card funded successfully"), nil
}

// WithdrawFromCard debits the card and credits the company USD wallet net of
// fees. A pending rail transfer is accepted and recorded as PENDING.
func (s *Service) WithdrawFromCard(ctx context.Context, in CardInput) (Result, error) {
	card, err := s.checkCard(ctx, in, true)
	if err != nil {
		return Result{}, s.reject(opWithdraw, err)
	}
	wallet, err := s.fundingWallet(ctx, in.CompanyID)
	if err != nil {
		return Result{}, s.reject(opWithdraw, err)
	}

	fee, err := s.cardFee(ctx, in, wallet, ledger.TypeWithdraw)
	if err != nil {
		return Result{}, s.reject(opWithdraw, err)
	}
	net := in.Amount.Sub(fee)
	if !net.IsPositive() {
		return Result{}, s.reject(opWithdraw, apperror.Validation("amount does not cover the withdrawal fee"))
	}

	adapter, err := s.rails.Adapter(card.Rail)
	if err != nil {
		return Result{}, s.reject(opWithdraw, apperror.Validation("card provider not supported"))
	}
	req := gateway.TransferRequest{
		DebitAccountID:  card.Reference,
		CreditAccountID: adapter.DebitAccountID(),
		Amount:          in.Amount,
		Currency:        cardCurrency,
		Narration:       "Card withdrawal",
		Reference:       s.newRef("withdraw"),
	}

	res, err := s.settle(ctx, adapter, req)
	if err != nil {
		return Result{}, s.railError(ctx, opWithdraw, card, in, req.Reference, err)
	}
	if !res.Provisional() {
		return Result{}, s.railRejected(ctx, opWithdraw, card, in, req.Reference, res)
	}

	status, label := ledger.StatusSuccess, "success"
	message := "card withdrawal successful"
	if res.Outcome == gateway.OutcomePending {
		status, label = ledger.StatusPending, "pending"
		message = "card withdrawal pending settlement"
	}

	txs, err := s.mutator.Commit(ctx, ledger.Leg{
		Transaction: ledger.Transaction{
			Category:      ledger.CategoryCard,
			Type:          ledger.TypeWithdraw,
			Status:        status,
			Amount:        in.Amount,
			Currency:      cardCurrency,
			CompanyID:     in.CompanyID,
			CustomerID:    card.CustomerID,
			UserID:        in.UserID,
			FeeAmount:     fee,
			NetAmount:     net,
			AmountWithFee: in.Amount,
			Reference:     req.Reference,
			OrderID:       res.TransferID,
			Narration:     req.Narration,
		},
		WalletID:    wallet.ID,
		WalletDelta: net,
		CardID:      card.ID,
		CardDelta:   in.Amount.Neg(),
	})
	if err != nil {
		return Result{}, s.unreconciled(ctx, opWithdraw, card, wallet, in, req.Reference, res, err)
	}

	s.metrics.Settlement(opWithdraw, label)
	return resultFrom(txs[0], message), nil
}

// checkCard applies the card preconditions in order; the first failure wins.
func (s *Service) checkCard(ctx context.Context, in CardInput, withdraw bool) (ledger.Card, error) {
	card, err := s.store.Card(ctx, in.CardID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Card{}, apperror.NotFound(msgCardNotFound)
		}
		return ledger.Card{}, apperror.Persistence("load card", err)
	}
	if card.CompanyID != in.CompanyID || card.Status == ledger.CardTerminated {
		return ledger.Card{}, apperror.NotFound(msgCardNotFound)
	}
	if card.Rail != s.rail {
		return ledger.Card{}, apperror.Validation("card provider not supported")
	}
	if card.Status == ledger.CardFrozen {
		return ledger.Card{}, apperror.Validation("card is frozen")
	}
	if in.Amount.LessThan(minimumAmount) {
		return ledger.Card{}, apperror.Validation(fmt.Sprintf("amount must be at least %s", money.Format(minimumAmount, cardCurrency)))
	}
	if err := money.CheckPlaces(in.Amount, cardCurrency); err != nil {
		return ledger.Card{}, apperror.Validation(err.Error())
	}
	if withdraw && card.Balance.LessThan(in.Amount) {
		return ledger.Card{}, apperror.InsufficientFunds("insufficient card balance")
	}
	return card, nil
}

func (s *Service) fundingWallet(ctx context.Context, companyID string) (ledger.Wallet, error) {
	wallet, err := s.store.CompanyWallet(ctx, companyID, cardCurrency)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Wallet{}, apperror.NotFound(msgWalletNotFound)
		}
		return ledger.Wallet{}, apperror.Persistence("load wallet", err)
	}
	if !wallet.Active {
		return ledger.Wallet{}, apperror.NotFound(msgWalletNotFound)
	}
	return wallet, nil
}

// cardFee resolves the card fee; a missing rule means no fee.
func (s *Service) cardFee(ctx context.Context, in CardInput, wallet ledger.Wallet, typ ledger.Type) (decimal.Decimal, error) {
	fee, err := s.fees.ResolveFee(ctx, pricing.FeeKey{
		CompanyID:           in.CompanyID,
		TransactionType:     string(typ),
		TransactionCategory: string(ledger.CategoryCard),
		CountryISOCode:      wallet.CountryISOCode,
		Currency:            cardCurrency,
	}, in.Amount)
	if errors.Is(err, pricing.ErrRuleNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, apperror.Persistence("resolve fee", err)
	}
	return money.Round(fee.Amount, cardCurrency), nil
}

// settle submits the transfer. An unknown outcome is re-queried once with the
// same reference; it is never resubmitted.
func (s *Service) settle(ctx context.Context, adapter gateway.Adapter, req gateway.TransferRequest) (gateway.Result, error) {
	res, err := adapter.TransferFunds(ctx, req)
	if !errors.Is(err, gateway.ErrUnknownOutcome) {
		return res, err
	}
	s.logger.Warn("transfer outcome unknown, querying rail",
		slog.String("reference", req.Reference),
		slog.String("rail", string(adapter.Rail())),
		slog.Any("error", err))

	queried, qerr := adapter.QueryTransfer(ctx, req.Reference)
	if qerr != nil || queried.Reason == gateway.ReasonNotFound {
		return gateway.Result{}, err
	}
	return queried, nil
}

func (s *Service) reject(op string, err error) error {
	s.metrics.Settlement(op, "rejected")
	return err
}

func (s *Service) railError(ctx context.Context, op string, card ledger.Card, in CardInput, reference string, err error) error {
	s.recordFailure(ctx, op, card, in, reference, err)
	switch {
	case errors.Is(err, gateway.ErrUnknownOutcome):
		s.metrics.Settlement(op, "rail_unknown")
		return apperror.RailUnknown(msgRetryLater, err)
	case errors.Is(err, gateway.ErrDuplicateReference):
		s.metrics.Settlement(op, "duplicate_reference")
		return apperror.Conflict("duplicate payment reference", err)
	default:
		s.metrics.Settlement(op, "rail_failure")
		return apperror.RailFailure(msgRetryLater, err)
	}
}

func (s *Service) railRejected(ctx context.Context, op string, card ledger.Card, in CardInput, reference string, res gateway.Result) error {
	cause := fmt.Errorf("rail outcome %s (status %q, transfer id %q): %s", res.Outcome, res.Status, res.TransferID, res.Message)
	s.recordFailure(ctx, op, card, in, reference, cause)
	s.metrics.Settlement(op, "rail_failure")
	if res.Reason == gateway.ReasonInsufficientFunds {
		return apperror.RailFailure(msgProviderNoFunds, cause)
	}
	return apperror.RailFailure(msgRetryLater, cause)
}

// railPending reports a fund transfer the rail accepted but has not
// completed. Nothing is committed and the reference is flagged for
// reconciliation.
func (s *Service) railPending(ctx context.Context, op string, card ledger.Card, in CardInput, reference string, res gateway.Result) error {
	cause := fmt.Errorf("%w: rail reported %q for transfer %q", gateway.ErrUnknownOutcome, res.Status, res.TransferID)
	s.metrics.Settlement(op, "rail_pending")
	s.logger.Warn("card transfer pending at rail, not committed",
		slog.String("operation", op),
		slog.String("customer_id", card.CustomerID),
		slog.String("card_id", card.ID),
		slog.String("company_id", in.CompanyID),
		slog.String("amount", in.Amount.String()),
		slog.String("reference", reference),
		slog.String("transfer_id", res.TransferID))
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindSettlementUnreconciled,
		Destination: in.CompanyID,
		Body:        "card transfer pending at the rail, local books unchanged",
		Attributes: map[string]string{
			"operation":   op,
			"card_id":     card.ID,
			"amount":      in.Amount.String(),
			"reference":   reference,
			"transfer_id": res.TransferID,
			"rail_status": res.Status,
		},
	})
	return apperror.RailUnknown(msgRetryLater, cause)
}

func (s *Service) recordFailure(ctx context.Context, op string, card ledger.Card, in CardInput, reference string, cause error) {
	s.logger.Error("card settlement failed",
		slog.String("operation", op),
		slog.String("customer_id", card.CustomerID),
		slog.String("card_id", card.ID),
		slog.String("company_id", in.CompanyID),
		slog.String("amount", in.Amount.String()),
		slog.String("reference", reference),
		slog.Any("error", cause))
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindSettlementFailed,
		Destination: card.CustomerID,
		Body:        fmt.Sprintf("%s of %s failed", op, money.Format(in.Amount, cardCurrency)),
		Attributes: map[string]string{
			"operation":  op,
			"card_id":    card.ID,
			"company_id": in.CompanyID,
			"reference":  reference,
			"error":      cause.Error(),
		},
	})
}

func (s *Service) unreconciled(ctx context.Context, op string, card ledger.Card, wallet ledger.Wallet, in CardInput, reference string, res gateway.Result, cause error) error {
	s.metrics.Settlement(op, "unreconciled")
	s.logger.Error(msgUnreconciledAlert,
		slog.String("operation", op),
		slog.String("customer_id", card.CustomerID),
		slog.String("card_id", card.ID),
		slog.String("wallet_id", wallet.ID),
		slog.String("amount", in.Amount.String()),
		slog.String("reference", reference),
		slog.String("transfer_id", res.TransferID),
		slog.Any("error", cause))
	notification.Dispatch(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindSettlementUnreconciled,
		Destination: in.CompanyID,
		Body:        msgUnreconciledAlert,
		Attributes: map[string]string{
			"operation":   op,
			"card_id":     card.ID,
			"wallet_id":   wallet.ID,
			"amount":      in.Amount.String(),
			"reference":   reference,
			"transfer_id": res.TransferID,
		},
	})
	return apperror.Persistence(msgRetryLater, cause)
}

func resultFrom(t ledger.Transaction, message string) Result {
	return Result{
		Status:        t.Status,
		Message:       message,
		TransactionID: t.ID,
		Reference:     t.Reference,
		TransferID:    t.OrderID,
		Fee:           t.FeeAmount,
		CardBalance:   t.CardBalanceAfter.Decimal,
		WalletBalance: t.WalletBalanceAfter.Decimal,
	}
}
