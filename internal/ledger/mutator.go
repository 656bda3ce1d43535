package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Leg is one balance mutation and the transaction row that records it. A leg
// may touch a wallet, a card, or both.
type Leg struct {
	Transaction Transaction

	WalletID    string
	Pool        Pool
	WalletDelta decimal.Decimal
	// PayoutAmountDelta accumulates cumulative disbursed amounts on payout legs.
	PayoutAmountDelta decimal.Decimal

	CardID    string
	CardDelta decimal.Decimal
}

// Mutator applies balance deltas together with their transaction rows in a
// single Store.Operation. It is the only path that writes balances.
type Mutator struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewMutator builds a mutator over store.
func NewMutator(store Store) *Mutator {
	return &Mutator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// WithClock replaces the clock used to stamp rows.
func (m *Mutator) WithClock(now func() time.Time) *Mutator {
	m.now = now
	return m
}

// Store exposes the underlying store for read paths.
func (m *Mutator) Store() Store { return m.store }

// Commit applies every leg atomically. Either all balances and rows are
// persisted or none are. Returned transactions carry their before/after
// balances.
func (m *Mutator) Commit(ctx context.Context, legs ...Leg) ([]Transaction, error) {
	if len(legs) == 0 {
		return nil, fmt.Errorf("commit: no legs")
	}

	var committed []Transaction
	err := m.store.Operation(ctx, func(tx Tx) error {
		committed = committed[:0]

		wallets, err := tx.LockWallets(ctx, walletIDs(legs)...)
		if err != nil {
			return err
		}
		cards := make(map[string]Card)
		for _, id := range cardIDs(legs) {
			c, err := tx.LockCard(ctx, id)
			if err != nil {
				return err
			}
			cards[id] = c
		}

		now := m.now()
		var audits []BalanceAudit
		for i, leg := range legs {
			t := leg.Transaction
			if t.ID == "" {
				t.ID = m.newID()
			}
			if t.Reference == "" {
				t.Reference = t.ID
			}
			t.CreatedAt = now

			if leg.CardID != "" {
				c := cards[leg.CardID]
				after := c.Balance.Add(leg.CardDelta)
				if after.IsNegative() {
					return fmt.Errorf("leg %d card %s: %w", i, c.ID, ErrInsufficientFunds)
				}
				t.CardID = c.ID
				t.CardBalanceBefore = decimal.NewNullDecimal(c.Balance)
				t.CardBalanceAfter = decimal.NewNullDecimal(after)
				c.Balance = after
				cards[c.ID] = c
				if err := tx.UpdateCardBalance(ctx, c.ID, after); err != nil {
					return err
				}
			}

			if leg.WalletID != "" {
				w := wallets[leg.WalletID]
				before, after, err := applyWalletDelta(&w, leg)
				if err != nil {
					return fmt.Errorf("leg %d wallet %s: %w", i, w.ID, err)
				}
				t.WalletID = w.ID
				t.WalletBalanceBefore = decimal.NewNullDecimal(before)
				t.WalletBalanceAfter = decimal.NewNullDecimal(after)
				w.UpdatedAt = now
				wallets[w.ID] = w
				if err := tx.UpdateWallet(ctx, w); err != nil {
					return err
				}
				if !leg.WalletDelta.IsZero() {
					audits = append(audits, BalanceAudit{
						ID:            m.newID(),
						WalletID:      w.ID,
						TransactionID: t.ID,
						Pool:          poolOf(leg),
						OldBalance:    before,
						NewBalance:    after,
						Delta:         leg.WalletDelta,
						CreatedAt:     now,
					})
				}
			}

			if err := tx.InsertTransaction(ctx, t); err != nil {
				return err
			}
			committed = append(committed, t)
		}

		for _, a := range audits {
			if err := tx.InsertBalanceAudit(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func applyWalletDelta(w *Wallet, leg Leg) (before, after decimal.Decimal, err error) {
	switch poolOf(leg) {
	case PoolPayout:
		before = w.PayoutBalance
		after = before.Add(leg.WalletDelta)
		if after.IsNegative() {
			return before, after, ErrInsufficientFunds
		}
		w.PayoutBalance = after
		w.PayoutAmount = w.PayoutAmount.Add(leg.PayoutAmountDelta)
	default:
		before = w.Balance
		after = before.Add(leg.WalletDelta)
		if after.IsNegative() {
			return before, after, ErrInsufficientFunds
		}
		w.Balance = after
	}
	return before, after, nil
}

func poolOf(leg Leg) Pool {
	if leg.Pool == "" {
		return PoolBalance
	}
	return leg.Pool
}

func walletIDs(legs []Leg) []string {
	return uniqueSorted(legs, func(l Leg) string { return l.WalletID })
}

func cardIDs(legs []Leg) []string {
	return uniqueSorted(legs, func(l Leg) string { return l.CardID })
}

func uniqueSorted(legs []Leg, key func(Leg) string) []string {
	seen := make(map[string]struct{}, len(legs))
	var ids []string
	for _, l := range legs {
		id := key(l)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
