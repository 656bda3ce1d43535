package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/apperror"
	"github.com/congo-pay/cardrail/internal/ledger"
	"github.com/congo-pay/cardrail/internal/metrics"
	"github.com/congo-pay/cardrail/internal/money"
	"github.com/congo-pay/cardrail/internal/notification"
	"github.com/congo-pay/cardrail/internal/pricing"
)

const (
	defaultMaxAttempts = 3
	defaultBatchSize   = 200
)

var (
	// ErrRetryLater marks executor failures that leave the row eligible
	// without counting an attempt, such as liquidity shortfalls and unknown
	// rail outcomes.
	ErrRetryLater = errors.New("withdrawal deferred")
	// ErrPermanent marks executor failures that can never succeed on retry.
	ErrPermanent = errors.New("withdrawal cannot be completed")
)

var defaultFeePercent = decimal.NewFromInt(2)

// Executor performs the payout behind a queued withdrawal.
type Executor interface {
	Liquidity(ctx context.Context, currency string) (decimal.Decimal, error)
	// ExecuteQueued disburses w using its stored reference and commits the
	// wallet debit. It returns the ledger transaction id.
	ExecuteQueued(ctx context.Context, w PendingWithdrawal) (string, error)
}

// QueueConfig tunes the queue.
type QueueConfig struct {
	MaxAttempts int
	BatchSize   int
	// DefaultFeePercent applies when no EXTERNAL_WITHDRAW fee rule matches.
	DefaultFeePercent decimal.Decimal
}

// Queue is the durable list of deferred payouts and its drain pass.
type Queue struct {
	repo     Repository
	fees     *pricing.Resolver
	notifier notification.Notifier
	metrics  *metrics.Collectors
	logger   *slog.Logger
	cfg      QueueConfig
	now      func() time.Time
	newID    func() string
}

// NewQueue builds a queue over repo.
func NewQueue(repo Repository, fees *pricing.Resolver, notifier notification.Notifier, m *metrics.Collectors, logger *slog.Logger, cfg QueueConfig) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if !cfg.DefaultFeePercent.IsPositive() {
		cfg.DefaultFeePercent = defaultFeePercent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		repo:     repo,
		fees:     fees,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With("component", "withdrawal_queue"),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// WithClock replaces the queue clock.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// MaxAttempts is the failed attempt limit after which a row is FAILED.
func (q *Queue) MaxAttempts() int { return q.cfg.MaxAttempts }

// MaxPriority bounds Request.Priority. Higher priorities drain first.
const MaxPriority = 10

// Request describes a payout to defer.
type Request struct {
	WalletID       string
	Amount         decimal.Decimal
	PhoneNumber    string
	Operator       string
	Reason         string
	CompanyID      string
	UserID         string
	Currency       string
	CountryISOCode string
	// Reference is the payout's idempotent reference. Generated when empty.
	Reference string
	// FeeAmount skips fee resolution when already computed by the caller.
	FeeAmount decimal.NullDecimal
	Priority  int
	// Cause explains why the payout was deferred.
	Cause string
}

// Queued is the result of AddToQueue.
type Queued struct {
	QueueID     string
	Reference   string
	FeeAmount   decimal.Decimal
	TotalAmount decimal.Decimal
	Status      Status
}

// AddToQueue persists a PENDING_FUNDS row with total = amount + fee.
func (q *Queue) AddToQueue(ctx context.Context, req Request) (Queued, error) {
	if req.WalletID == "" || req.CompanyID == "" || req.Currency == "" {
		return Queued{}, apperror.Validation("wallet, company and currency are required")
	}
	if req.PhoneNumber == "" || req.Operator == "" {
		return Queued{}, apperror.Validation("phone number and operator are required")
	}
	if !req.Amount.IsPositive() {
		return Queued{}, apperror.Validation("amount must be greater than zero")
	}
	if err := money.CheckPlaces(req.Amount, req.Currency); err != nil {
		return Queued{}, apperror.Validation(err.Error())
	}
	if req.Priority < 0 || req.Priority > MaxPriority {
		return Queued{}, apperror.Validation(fmt.Sprintf("priority must be between 0 and %d", MaxPriority))
	}

	fee := req.FeeAmount.Decimal
	if !req.FeeAmount.Valid {
		resolved, err := q.fees.ResolveFeeOrPercent(ctx, pricing.FeeKey{
			CompanyID:           req.CompanyID,
			TransactionType:     string(ledger.TypeExternalWithdraw),
			TransactionCategory: string(ledger.CategoryWallet),
			CountryISOCode:      req.CountryISOCode,
			Currency:            req.Currency,
		}, req.Amount, q.cfg.DefaultFeePercent)
		if err != nil {
			return Queued{}, apperror.Persistence("resolve withdrawal fee", err)
		}
		fee = money.Round(resolved.Amount, req.Currency)
	}

	now := q.now()
	reference := req.Reference
	if reference == "" {
		reference = "payout_" + q.newID()
	}
	row := PendingWithdrawal{
		ID:           q.newID(),
		WalletID:     req.WalletID,
		Amount:       req.Amount,
		FeeAmount:    fee,
		TotalAmount:  req.Amount.Add(fee),
		PhoneNumber:  req.PhoneNumber,
		Operator:     req.Operator,
		Reason:       req.Reason,
		CompanyID:    req.CompanyID,
		UserID:       req.UserID,
		Currency:     req.Currency,
		Reference:    reference,
		Status:       StatusPendingFunds,
		Priority:     req.Priority,
		ErrorMessage: req.Cause,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := q.repo.Create(ctx, row); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return Queued{}, apperror.Conflict("payout already queued", err)
		}
		return Queued{}, apperror.Persistence("queue withdrawal", err)
	}

	q.logger.Info("withdrawal queued",
		slog.String("queue_id", row.ID),
		slog.String("wallet_id", row.WalletID),
		slog.String("company_id", row.CompanyID),
		slog.String("total_amount", row.TotalAmount.String()),
		slog.String("currency", row.Currency),
		slog.String("reference", row.Reference),
		slog.String("cause", req.Cause))
	notification.Dispatch(ctx, q.notifier, q.logger, notification.Message{
		Kind:        notification.KindWithdrawalQueued,
		Destination: destination(row),
		Body:        fmt.Sprintf("Your withdrawal of %s is queued until funds are available", money.Format(row.Amount, row.Currency)),
		Attributes:  map[string]string{"queue_id": row.ID, "reference": row.Reference},
	})
	q.refreshDepth(ctx)

	return Queued{QueueID: row.ID, Reference: row.Reference, FeeAmount: fee, TotalAmount: row.TotalAmount, Status: row.Status}, nil
}

// DrainReport summarises one pass over the queue.
type DrainReport struct {
	Examined  int
	Processed int
	// Deferred rows went back to PENDING_FUNDS without counting an attempt.
	Deferred int
	// Retried rows went back to PENDING_FUNDS with one more failed attempt.
	Retried int
	Failed  int
	// Skipped rows were claimed by a concurrent pass.
	Skipped    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// ProcessQueue runs one drain pass over a snapshot of eligible rows.
func (q *Queue) ProcessQueue(ctx context.Context, exec Executor) (DrainReport, error) {
	report := DrainReport{StartedAt: q.now()}
	rows, err := q.repo.Eligible(ctx, q.cfg.MaxAttempts, q.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("load eligible withdrawals: %w", err)
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		report.Examined++
		claimed, err := q.repo.Claim(ctx, row.ID, q.now())
		if err != nil {
			if !errors.Is(err, ErrNotClaimable) && !errors.Is(err, ErrNotFound) {
				q.logger.Error("claim withdrawal failed", slog.String("queue_id", row.ID), slog.Any("error", err))
			}
			report.Skipped++
			q.metrics.Drained("skipped", 1)
			continue
		}
		result := q.processOne(ctx, exec, claimed)
		switch result {
		case "processed":
			report.Processed++
		case "deferred":
			report.Deferred++
		case "retried":
			report.Retried++
		case "failed":
			report.Failed++
		}
		q.metrics.Drained(result, 1)
	}

	report.FinishedAt = q.now()
	q.refreshDepth(ctx)
	q.logger.Info("withdrawal drain finished",
		slog.Int("examined", report.Examined),
		slog.Int("processed", report.Processed),
		slog.Int("deferred", report.Deferred),
		slog.Int("retried", report.Retried),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped))
	return report, ctx.Err()
}

func (q *Queue) processOne(ctx context.Context, exec Executor, row PendingWithdrawal) string {
	log := q.logger.With(slog.String("queue_id", row.ID), slog.String("reference", row.Reference))

	liquidity, err := exec.Liquidity(ctx, row.Currency)
	if err != nil {
		log.Warn("liquidity check failed, deferring", slog.Any("error", err))
		return q.finish(ctx, row, Transition{To: StatusPendingFunds, ErrorMessage: "liquidity check failed: " + err.Error()}, "deferred")
	}
	if liquidity.LessThan(row.TotalAmount) {
		log.Debug("liquidity still short",
			slog.String("liquidity", liquidity.String()), slog.String("total_amount", row.TotalAmount.String()))
		return q.finish(ctx, row, Transition{To: StatusPendingFunds}, "deferred")
	}

	txID, err := exec.ExecuteQueued(ctx, row)
	switch {
	case err == nil:
		log.Info("queued withdrawal processed", slog.String("transaction_id", txID))
		return q.finish(ctx, row, Transition{To: StatusProcessed, TransactionID: txID}, "processed")
	case errors.Is(err, ErrRetryLater):
		log.Warn("queued withdrawal deferred", slog.Any("error", err))
		return q.finish(ctx, row, Transition{To: StatusPendingFunds, ErrorMessage: err.Error()}, "deferred")
	case errors.Is(err, ErrPermanent):
		log.Error("queued withdrawal cannot complete", slog.Any("error", err))
		q.finish(ctx, row, Transition{To: StatusFailed, IncrementAttempts: true, ErrorMessage: err.Error()}, "failed")
		q.notifyFailed(ctx, row, err)
		return "failed"
	}

	if row.FailedAttempts+1 >= q.cfg.MaxAttempts {
		log.Error("queued withdrawal exhausted its attempts",
			slog.Int("failed_attempts", row.FailedAttempts+1), slog.Any("error", err))
		q.finish(ctx, row, Transition{To: StatusFailed, IncrementAttempts: true, ErrorMessage: err.Error()}, "failed")
		q.notifyFailed(ctx, row, err)
		return "failed"
	}
	log.Warn("queued withdrawal attempt failed",
		slog.Int("failed_attempts", row.FailedAttempts+1), slog.Any("error", err))
	return q.finish(ctx, row, Transition{To: StatusPendingFunds, IncrementAttempts: true, ErrorMessage: err.Error()}, "retried")
}

func (q *Queue) finish(ctx context.Context, row PendingWithdrawal, t Transition, result string) string {
	t.At = q.now()
	if _, err := q.repo.Finish(context.WithoutCancel(ctx), row.ID, t); err != nil {
		q.logger.Error("withdrawal transition failed, row stays PROCESSING",
			slog.String("queue_id", row.ID),
			slog.String("to", string(t.To)),
			slog.String("transaction_id", t.TransactionID),
			slog.Any("error", err))
	}
	return result
}

func (q *Queue) notifyFailed(ctx context.Context, row PendingWithdrawal, cause error) {
	notification.Dispatch(ctx, q.notifier, q.logger, notification.Message{
		Kind:        notification.KindWithdrawalFailed,
		Destination: destination(row),
		Body:        fmt.Sprintf("Your withdrawal of %s could not be completed", money.Format(row.Amount, row.Currency)),
		Attributes: map[string]string{
			"queue_id":  row.ID,
			"reference": row.Reference,
			"error":     cause.Error(),
		},
	})
}

// GetQueueStatus returns one queued withdrawal of companyID.
func (q *Queue) GetQueueStatus(ctx context.Context, companyID, id string) (PendingWithdrawal, error) {
	w, err := q.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PendingWithdrawal{}, apperror.NotFound("queued withdrawal not found")
		}
		return PendingWithdrawal{}, apperror.Persistence("load queued withdrawal", err)
	}
	if w.CompanyID != companyID {
		return PendingWithdrawal{}, apperror.NotFound("queued withdrawal not found")
	}
	return w, nil
}

// GetPendingWithdrawals lists queued withdrawals matching filter. An empty
// status lists PENDING_FUNDS rows.
func (q *Queue) GetPendingWithdrawals(ctx context.Context, filter Filter) ([]PendingWithdrawal, error) {
	if filter.Status == "" {
		filter.Status = StatusPendingFunds
	}
	rows, err := q.repo.List(ctx, filter)
	if err != nil {
		return nil, apperror.Persistence("list queued withdrawals", err)
	}
	return rows, nil
}

// Counts returns the number of rows per state, including empty states.
func (q *Queue) Counts(ctx context.Context) (map[Status]int, error) {
	counts, err := q.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range []Status{StatusPendingFunds, StatusProcessing, StatusProcessed, StatusFailed} {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	return counts, nil
}

// Archive moves terminal rows last touched before cutoff out of the live queue.
func (q *Queue) Archive(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := q.repo.Archive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.refreshDepth(ctx)
	}
	return n, nil
}

func (q *Queue) refreshDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	counts, err := q.Counts(ctx)
	if err != nil {
		q.logger.Warn("queue depth refresh failed", slog.Any("error", err))
		return
	}
	depth := make(map[string]int, len(counts))
	for s, n := range counts {
		depth[string(s)] = n
	}
	q.metrics.SetQueueDepth(depth)
}

func destination(w PendingWithdrawal) string {
	if w.UserID != "" {
		return w.UserID
	}
	return w.CompanyID
}
