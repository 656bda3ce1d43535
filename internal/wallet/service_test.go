package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/apperror"
	"github.com/congo-pay/cardrail/internal/ledger"
)

func TestServiceBalanceAndStatement(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedWallet(store, ledger.Wallet{ID: "w1", CompanyID: "co", Currency: "XAF", Balance: decimal.NewFromInt(2_500), PayoutBalance: decimal.NewFromInt(700), Active: true})
	svc := NewService(store)
	ctx := context.Background()

	balance, err := svc.Balance(ctx, "co", "w1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Balance.Equal(decimal.NewFromInt(2_500)) || !balance.PayoutBalance.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("unexpected balance %+v", balance)
	}

	mutator := ledger.NewMutator(store)
	for i := 0; i < 3; i++ {
		if _, err := mutator.Commit(ctx, ledger.Leg{
			Transaction: ledger.Transaction{Category: ledger.CategoryWallet, Type: ledger.TypeWalletToWallet, Status: ledger.StatusSuccess, Amount: decimal.NewFromInt(100), Currency: "XAF", CompanyID: "co"},
			WalletID:    "w1",
			WalletDelta: decimal.NewFromInt(-100),
		}); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	st, err := svc.Statement(ctx, "co", "w1", 2)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(st.Transactions) != 2 || len(st.Audits) != 2 {
		t.Fatalf("limit must apply: %d transactions, %d audits", len(st.Transactions), len(st.Audits))
	}
	if !st.Wallet.Balance.Equal(decimal.NewFromInt(2_200)) {
		t.Fatalf("expected 2200, got %s", st.Wallet.Balance)
	}
	if last := st.Audits[len(st.Audits)-1]; !last.NewBalance.Equal(decimal.NewFromInt(2_200)) {
		t.Fatalf("audits must end at the newest balance, got %+v", last)
	}
}

func TestServiceScopesByCompany(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedWallet(store, ledger.Wallet{ID: "w1", CompanyID: "co", Currency: "USD", Active: true})
	svc := NewService(store)

	if _, err := svc.Get(context.Background(), "other", "w1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found for a foreign wallet, got %v", err)
	}
	if _, err := svc.Balance(context.Background(), "co", "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
