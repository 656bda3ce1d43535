package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedPair(t *testing.T) (*MemoryStore, *Mutator) {
	t.Helper()
	store := NewInMemory()
	SeedWallet(store, Wallet{ID: "wallet-a", CompanyID: "co", Currency: "USD", Balance: dec("100"), Active: true})
	SeedWallet(store, Wallet{ID: "wallet-b", CompanyID: "co", Currency: "XAF", Balance: dec("0"), Active: true})
	SeedCard(store, Card{ID: "card-1", CompanyID: "co", CustomerID: "cust", Balance: dec("0")})
	return store, NewMutator(store)
}

func TestMutatorCardAndWalletLegMaintainsBalance(t *testing.T) {
	store, m := seedPair(t)
	ctx := context.Background()

	txs, err := m.Commit(ctx, Leg{
		Transaction: Transaction{Category: CategoryCard, Type: TypeFund, Status: StatusSuccess, Amount: dec("20"), Currency: "USD", Reference: "fund-1"},
		WalletID:    "wallet-a",
		WalletDelta: dec("-20"),
		CardID:      "card-1",
		CardDelta:   dec("20"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected one transaction, got %d", len(txs))
	}
	tx := txs[0]
	if !tx.CardBalanceBefore.Decimal.Equal(dec("0")) || !tx.CardBalanceAfter.Decimal.Equal(dec("20")) {
		t.Fatalf("unexpected card balances %v -> %v", tx.CardBalanceBefore, tx.CardBalanceAfter)
	}
	if !tx.WalletBalanceBefore.Decimal.Equal(dec("100")) || !tx.WalletBalanceAfter.Decimal.Equal(dec("80")) {
		t.Fatalf("unexpected wallet balances %v -> %v", tx.WalletBalanceBefore, tx.WalletBalanceAfter)
	}

	w, _ := store.Wallet(ctx, "wallet-a")
	c, _ := store.Card(ctx, "card-1")
	if !w.Balance.Add(c.Balance).Equal(dec("100")) {
		t.Fatalf("value not conserved: wallet=%s card=%s", w.Balance, c.Balance)
	}

	audits, _ := store.BalanceAudits(ctx, "wallet-a")
	if len(audits) != 1 || !audits[0].Delta.Equal(dec("-20")) || audits[0].TransactionID != tx.ID {
		t.Fatalf("unexpected audits %+v", audits)
	}
}

func TestMutatorDuplicateReference(t *testing.T) {
	_, m := seedPair(t)
	ctx := context.Background()
	leg := Leg{
		Transaction: Transaction{Category: CategoryWallet, Type: TypeWalletToWallet, Reference: "dup"},
		WalletID:    "wallet-a",
		WalletDelta: dec("-1"),
	}
	if _, err := m.Commit(ctx, leg); err != nil {
		t.Fatalf("initial commit: %v", err)
	}
	if _, err := m.Commit(ctx, leg); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestMutatorRejectsNegativeBalance(t *testing.T) {
	store, m := seedPair(t)
	ctx := context.Background()

	_, err := m.Commit(ctx,
		Leg{Transaction: Transaction{Reference: "r-credit"}, WalletID: "wallet-b", WalletDelta: dec("50")},
		Leg{Transaction: Transaction{Reference: "r-debit"}, WalletID: "wallet-a", WalletDelta: dec("-500")},
	)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	b, _ := store.Wallet(ctx, "wallet-b")
	if !b.Balance.IsZero() {
		t.Fatalf("credit leg must roll back, balance=%s", b.Balance)
	}
	txs, _ := store.Transactions(ctx, TransactionFilter{})
	if len(txs) != 0 {
		t.Fatalf("expected no rows, got %d", len(txs))
	}
}

func TestMutatorInjectedFailureLeavesNoPartialCommit(t *testing.T) {
	store, m := seedPair(t)
	ctx := context.Background()
	FailWalletWrite(store, 2)

	_, err := m.Commit(ctx,
		Leg{Transaction: Transaction{Reference: "x-D"}, WalletID: "wallet-a", WalletDelta: dec("-10")},
		Leg{Transaction: Transaction{Reference: "x-C"}, WalletID: "wallet-b", WalletDelta: dec("6200")},
	)
	if !IsInjectedFailure(err) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	a, _ := store.Wallet(ctx, "wallet-a")
	b, _ := store.Wallet(ctx, "wallet-b")
	if !a.Balance.Equal(dec("100")) || !b.Balance.IsZero() {
		t.Fatalf("partial commit: a=%s b=%s", a.Balance, b.Balance)
	}
	if audits, _ := store.BalanceAudits(ctx, "wallet-a"); len(audits) != 0 {
		t.Fatalf("audits must roll back, got %d", len(audits))
	}
}

func TestMutatorPayoutPool(t *testing.T) {
	store := NewInMemory()
	SeedWallet(store, Wallet{ID: "w", CompanyID: "co", Currency: "XAF", PayoutBalance: dec("5000"), Active: true})
	m := NewMutator(store)
	ctx := context.Background()

	if _, err := m.Commit(ctx, Leg{
		Transaction:       Transaction{Reference: "payout-1"},
		WalletID:          "w",
		Pool:              PoolPayout,
		WalletDelta:       dec("-1530"),
		PayoutAmountDelta: dec("1500"),
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	w, _ := store.Wallet(ctx, "w")
	if !w.PayoutBalance.Equal(dec("3470")) || !w.PayoutAmount.Equal(dec("1500")) || !w.Balance.IsZero() {
		t.Fatalf("unexpected wallet %+v", w)
	}
	audits, _ := store.BalanceAudits(ctx, "w")
	if len(audits) != 1 || audits[0].Pool != PoolPayout {
		t.Fatalf("unexpected audits %+v", audits)
	}
}

func TestMutatorConcurrentCommits(t *testing.T) {
	store, m := seedPair(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Commit(ctx, Leg{
				Transaction: Transaction{Reference: fmt.Sprintf("tx-%d", i)},
				WalletID:    "wallet-a",
				WalletDelta: dec("-15"),
				CardID:      "card-1",
				CardDelta:   dec("15"),
			})
			if err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("commit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	w, _ := store.Wallet(ctx, "wallet-a")
	c, _ := store.Card(ctx, "card-1")
	if w.Balance.IsNegative() {
		t.Fatalf("wallet went negative: %s", w.Balance)
	}
	if !w.Balance.Add(c.Balance).Equal(dec("100")) {
		t.Fatalf("ledger not balanced after concurrency: wallet=%s card=%s", w.Balance, c.Balance)
	}
	if !w.Balance.Equal(dec("10")) {
		t.Fatalf("expected six commits to succeed, wallet=%s", w.Balance)
	}
}

func TestSetCardStatusCompareAndSet(t *testing.T) {
	store, _ := seedPair(t)
	ctx := context.Background()
	if _, err := store.SetCardStatus(ctx, "card-1", CardActive, CardFrozen); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if _, err := store.SetCardStatus(ctx, "card-1", CardActive, CardFrozen); !errors.Is(err, ErrStatusChanged) {
		t.Fatalf("expected status changed, got %v", err)
	}
	if _, err := store.SetCardStatus(ctx, "missing", CardActive, CardFrozen); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
