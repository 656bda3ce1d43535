package payout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/apperror"
	"github.com/congo-pay/cardrail/internal/gateway"
	"github.com/congo-pay/cardrail/internal/ledger"
	"github.com/congo-pay/cardrail/internal/logging"
	"github.com/congo-pay/cardrail/internal/money"
	"github.com/congo-pay/cardrail/internal/notification"
	"github.com/congo-pay/cardrail/internal/pricing"
	"github.com/congo-pay/cardrail/internal/withdrawal"
)

type recordingNotifier struct {
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) kinds() map[string]int {
	out := make(map[string]int)
	for _, m := range n.messages {
		out[m.Kind]++
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store    *ledger.MemoryStore
	rail     *StaticRail
	repo     *withdrawal.MemoryRepository
	queue    *withdrawal.Queue
	notifier *recordingNotifier
	svc      *Service
	refs     int
}

// newFixture seeds a XAF wallet with 2000 of payout balance and a fixed
// payout fee of 30.
func newFixture(t *testing.T, liquidity string) *fixture {
	t.Helper()
	store := ledger.NewInMemory()
	ledger.SeedWallet(store, ledger.Wallet{ID: "wallet-xaf", CompanyID: "co", Currency: "XAF", PayoutBalance: dec("2000"), Active: true, CountryISOCode: "CM"})

	fees := pricing.NewMemoryRepository()
	fees.PutFee(pricing.TransactionFee{
		Key: pricing.FeeKey{
			CompanyID:           "co",
			TransactionType:     "EXTERNAL_WITHDRAW",
			TransactionCategory: "wallet",
			CountryISOCode:      "CM",
			Currency:            "XAF",
		},
		Type:   pricing.FeeFixed,
		Value:  dec("30"),
		Active: true,
	})
	resolver := pricing.NewResolver(fees, money.PairTable{}, logging.Discard())

	f := &fixture{
		store:    store,
		rail:     NewStaticRail(map[string]decimal.Decimal{"XAF": dec(liquidity)}),
		repo:     withdrawal.NewMemoryRepository(),
		notifier: &recordingNotifier{},
	}
	f.queue = withdrawal.NewQueue(f.repo, resolver, f.notifier, nil, logging.Discard(), withdrawal.QueueConfig{MaxAttempts: 3})
	svc, err := NewService(Deps{
		Mutator:  ledger.NewMutator(store),
		Fees:     resolver,
		Rail:     f.rail,
		Queue:    f.queue,
		Notifier: f.notifier,
		Logger:   logging.Discard(),
		NewReference: func(prefix string) string {
			f.refs++
			return fmt.Sprintf("%s_%d", prefix, f.refs)
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) wallet(t *testing.T) ledger.Wallet {
	t.Helper()
	w, err := f.store.Wallet(context.Background(), "wallet-xaf")
	if err != nil {
		t.Fatalf("load wallet: %v", err)
	}
	return w
}

func input(amount string) WithdrawalInput {
	return WithdrawalInput{
		CompanyID:   "co",
		UserID:      "user-1",
		WalletID:    "wallet-xaf",
		Amount:      dec(amount),
		PhoneNumber: "+237670000000",
		Operator:    "MTN",
		Reason:      "supplier",
	}
}

func TestProcessWithdrawalDisbursesImmediately(t *testing.T) {
	f := newFixture(t, "10000")

	res, err := f.svc.ProcessWithdrawal(context.Background(), input("1470"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Status != StatusSuccess || res.TransactionID == "" || res.ProviderTransactionID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.TotalAmount.Equal(dec("1500")) || !res.FeeAmount.Equal(dec("30")) {
		t.Fatalf("expected total 1500 with fee 30, got %s / %s", res.TotalAmount, res.FeeAmount)
	}
	w := f.wallet(t)
	if !w.PayoutBalance.Equal(dec("500")) || !w.PayoutAmount.Equal(dec("1470")) {
		t.Fatalf("expected payout balance 500 and payout amount 1470, got %s / %s", w.PayoutBalance, w.PayoutAmount)
	}
	audits, _ := f.store.BalanceAudits(context.Background(), "wallet-xaf")
	if len(audits) != 1 || audits[0].Pool != ledger.PoolPayout || !audits[0].Delta.Equal(dec("-1500")) {
		t.Fatalf("expected one payout audit of -1500, got %+v", audits)
	}
	if rows, _ := f.repo.Eligible(context.Background(), 3, 10); len(rows) != 0 {
		t.Fatalf("nothing should be queued, got %d rows", len(rows))
	}
}

func TestShortLiquidityQueuesThenDrainProcesses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "1000")

	res, err := f.svc.ProcessWithdrawal(ctx, input("1470"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Status != StatusQueued || res.QueueID == "" {
		t.Fatalf("expected QUEUED with a queue id, got %+v", res)
	}
	row, err := f.queue.GetQueueStatus(ctx, "co", res.QueueID)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if row.Status != withdrawal.StatusPendingFunds || !row.TotalAmount.Equal(dec("1500")) || row.Reference != res.Reference {
		t.Fatalf("unexpected queued row %+v", row)
	}
	if w := f.wallet(t); !w.PayoutBalance.Equal(dec("2000")) {
		t.Fatalf("queueing must not debit, payout balance %s", w.PayoutBalance)
	}
	if f.notifier.kinds()[notification.KindWithdrawalQueued] != 1 {
		t.Fatalf("expected a queued notification, got %+v", f.notifier.messages)
	}

	f.rail.SetLiquidity("XAF", dec("5000"))
	report, err := f.queue.ProcessQueue(ctx, f.svc)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("expected one processed row, got %+v", report)
	}
	row, _ = f.queue.GetQueueStatus(ctx, "co", res.QueueID)
	if row.Status != withdrawal.StatusProcessed || row.TransactionID == "" || row.ProcessedAt == nil {
		t.Fatalf("expected PROCESSED with a transaction id, got %+v", row)
	}
	if w := f.wallet(t); !w.PayoutBalance.Equal(dec("500")) {
		t.Fatalf("expected payout balance 500 after drain, got %s", w.PayoutBalance)
	}
	txs, _ := f.store.Transactions(ctx, ledger.TransactionFilter{Reference: res.Reference})
	if len(txs) != 1 || txs[0].ID != row.TransactionID {
		t.Fatalf("expected the committed transaction to match the row, got %+v", txs)
	}
}

func TestHigherPriorityPayoutDrainsFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "0")

	low, err := f.svc.ProcessWithdrawal(ctx, input("400"))
	if err != nil {
		t.Fatalf("withdraw low: %v", err)
	}
	urgent := input("500")
	urgent.Priority = 5
	high, err := f.svc.ProcessWithdrawal(ctx, urgent)
	if err != nil {
		t.Fatalf("withdraw high: %v", err)
	}
	if low.Status != StatusQueued || high.Status != StatusQueued {
		t.Fatalf("expected both payouts queued, got %s and %s", low.Status, high.Status)
	}
	row, _ := f.queue.GetQueueStatus(ctx, "co", high.QueueID)
	if row.Priority != 5 {
		t.Fatalf("expected priority 5 on the queued row, got %d", row.Priority)
	}

	// Enough for the 530 total of the urgent payout but not both.
	f.rail.SetLiquidity("XAF", dec("600"))
	report, err := f.queue.ProcessQueue(ctx, f.svc)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Processed != 1 || report.Deferred != 1 {
		t.Fatalf("expected one processed and one deferred row, got %+v", report)
	}
	if row, _ = f.queue.GetQueueStatus(ctx, "co", high.QueueID); row.Status != withdrawal.StatusProcessed {
		t.Fatalf("expected the priority payout processed, got %s", row.Status)
	}
	if row, _ = f.queue.GetQueueStatus(ctx, "co", low.QueueID); row.Status != withdrawal.StatusPendingFunds {
		t.Fatalf("expected the earlier payout still waiting, got %s", row.Status)
	}
	if w := f.wallet(t); !w.PayoutBalance.Equal(dec("1470")) {
		t.Fatalf("expected payout balance 1470, got %s", w.PayoutBalance)
	}
}

func TestUnknownOutcomeQueuesWithSameReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10000")
	var seen []string
	f.rail.Fail = func(d Disbursement) error {
		seen = append(seen, d.Reference)
		return fmt.Errorf("%w: deadline exceeded", gateway.ErrUnknownOutcome)
	}

	res, err := f.svc.ProcessWithdrawal(ctx, input("100"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Status != StatusQueued {
		t.Fatalf("expected QUEUED, got %+v", res)
	}

	f.rail.Fail = nil
	if _, err := f.queue.ProcessQueue(ctx, f.svc); err != nil {
		t.Fatalf("drain: %v", err)
	}
	row, _ := f.queue.GetQueueStatus(ctx, "co", res.QueueID)
	if row.Status != withdrawal.StatusProcessed {
		t.Fatalf("expected PROCESSED, got %s", row.Status)
	}
	if len(seen) != 1 || seen[0] != res.Reference || f.rail.Disbursed() != 1 {
		t.Fatalf("expected disbursement retried under %s, saw %v", res.Reference, seen)
	}
}

func TestRejectedPayoutIsRailFailure(t *testing.T) {
	f := newFixture(t, "10000")
	f.rail.Fail = func(Disbursement) error { return fmt.Errorf("%w: invalid msisdn", ErrRejected) }

	_, err := f.svc.ProcessWithdrawal(context.Background(), input("100"))
	if !errors.Is(err, apperror.ErrRailFailure) {
		t.Fatalf("expected rail failure, got %v", err)
	}
	if w := f.wallet(t); !w.PayoutBalance.Equal(dec("2000")) {
		t.Fatalf("rejected payout must not debit, got %s", w.PayoutBalance)
	}
	if rows, _ := f.repo.Eligible(context.Background(), 3, 10); len(rows) != 0 {
		t.Fatalf("rejected payout must not queue, got %d rows", len(rows))
	}
}

func TestProcessWithdrawalRejections(t *testing.T) {
	cases := []struct {
		name string
		in   func() WithdrawalInput
		kind error
	}{
		{"zero amount", func() WithdrawalInput { return input("0") }, apperror.ErrValidation},
		{"missing phone", func() WithdrawalInput { in := input("10"); in.PhoneNumber = ""; return in }, apperror.ErrValidation},
		{"other company", func() WithdrawalInput { in := input("10"); in.CompanyID = "other"; return in }, apperror.ErrNotFound},
		{"over payout balance", func() WithdrawalInput { return input("1971") }, apperror.ErrInsufficientFunds},
		{"fractional XAF", func() WithdrawalInput { return input("100.5") }, apperror.ErrValidation},
		{"priority out of range", func() WithdrawalInput { in := input("10"); in.Priority = withdrawal.MaxPriority + 1; return in }, apperror.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "10000")
			_, err := f.svc.ProcessWithdrawal(context.Background(), tc.in())
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if f.rail.Disbursed() != 0 {
				t.Fatal("rejected request reached the rail")
			}
		})
	}
}

func TestCommitFailureAfterDisbursementIsUnreconciled(t *testing.T) {
	f := newFixture(t, "10000")
	ledger.FailWalletWrite(f.store, 1)

	_, err := f.svc.ProcessWithdrawal(context.Background(), input("100"))
	if !errors.Is(err, apperror.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if f.notifier.kinds()[notification.KindSettlementUnreconciled] != 1 {
		t.Fatalf("expected an unreconciled notification, got %+v", f.notifier.messages)
	}
	if w := f.wallet(t); !w.PayoutBalance.Equal(dec("2000")) {
		t.Fatalf("failed commit must leave the balance, got %s", w.PayoutBalance)
	}
}

func TestExecuteQueuedInactiveWalletIsPermanent(t *testing.T) {
	f := newFixture(t, "10000")
	ledger.SeedWallet(f.store, ledger.Wallet{ID: "wallet-xaf", CompanyID: "co", Currency: "XAF", PayoutBalance: dec("2000"), Active: false})

	_, err := f.svc.ExecuteQueued(context.Background(), withdrawal.PendingWithdrawal{
		WalletID: "wallet-xaf", CompanyID: "co", Currency: "XAF", Reference: "payout_x",
		Amount: dec("10"), TotalAmount: dec("10"), PhoneNumber: "+237670000000", Operator: "MTN",
	})
	if !errors.Is(err, withdrawal.ErrPermanent) {
		t.Fatalf("expected permanent failure, got %v", err)
	}
}

func TestExecuteQueuedIsIdempotentPerReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10000")
	row := withdrawal.PendingWithdrawal{
		WalletID: "wallet-xaf", CompanyID: "co", Currency: "XAF", Reference: "payout_fixed",
		Amount: dec("100"), FeeAmount: dec("30"), TotalAmount: dec("130"), PhoneNumber: "+237670000000", Operator: "MTN",
	}

	first, err := f.svc.ExecuteQueued(ctx, row)
	if err != nil {
		t.Fatalf("first execution: %v", err)
	}
	second, err := f.svc.ExecuteQueued(ctx, row)
	if err != nil {
		t.Fatalf("second execution: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same transaction, got %s and %s", first, second)
	}
	if w := f.wallet(t); !w.PayoutBalance.Equal(dec("1870")) {
		t.Fatalf("expected a single debit, got %s", w.PayoutBalance)
	}
}

func TestExecuteQueuedShortfallRetriesLater(t *testing.T) {
	f := newFixture(t, "50")
	_, err := f.svc.ExecuteQueued(context.Background(), withdrawal.PendingWithdrawal{
		WalletID: "wallet-xaf", CompanyID: "co", Currency: "XAF", Reference: "payout_short",
		Amount: dec("100"), TotalAmount: dec("100"), PhoneNumber: "+237670000000", Operator: "MTN",
	})
	if !errors.Is(err, withdrawal.ErrRetryLater) || !errors.Is(err, ErrLiquidityShort) {
		t.Fatalf("expected retry-later shortfall, got %v", err)
	}
}
