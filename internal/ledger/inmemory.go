package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore is a concurrency-safe in-memory Store. Operations are
// serialized and staged so a failing callback leaves no trace.
type MemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	cards        map[string]Card
	transactions []Transaction
	references   map[string]struct{}
	audits       []BalanceAudit

	// failWalletWrite makes the nth UpdateWallet of the next operation fail.
	failWalletWrite int
}

// NewInMemory creates an empty in-memory store useful for unit tests and
// local development.
func NewInMemory() *MemoryStore {
	return &MemoryStore{
		wallets:    make(map[string]Wallet),
		cards:      make(map[string]Card),
		references: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Wallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
	}
	return w, nil
}

func (s *MemoryStore) CompanyWallet(_ context.Context, companyID, currency string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wallets {
		if w.CompanyID == companyID && strings.EqualFold(w.Currency, currency) {
			return w, nil
		}
	}
	return Wallet{}, fmt.Errorf("wallet %s/%s: %w", companyID, currency, ErrNotFound)
}

func (s *MemoryStore) Wallets(_ context.Context, filter WalletFilter) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Wallet
	for _, w := range s.wallets {
		if filter.CompanyID != "" && w.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Currency != "" && !strings.EqualFold(w.Currency, filter.Currency) {
			continue
		}
		if filter.ActiveOnly && !w.Active {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (s *MemoryStore) Card(_ context.Context, id string) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return Card{}, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) SetCardStatus(_ context.Context, id string, from, to CardStatus) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return Card{}, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if c.Status != from {
		return Card{}, ErrStatusChanged
	}
	c.Status = to
	s.cards[id] = c
	return c, nil
}

func (s *MemoryStore) Transactions(_ context.Context, filter TransactionFilter) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if filter.CompanyID != "" && t.CompanyID != filter.CompanyID {
			continue
		}
		if filter.WalletID != "" && t.WalletID != filter.WalletID {
			continue
		}
		if filter.CardID != "" && t.CardID != filter.CardID {
			continue
		}
		if filter.Reference != "" && t.Reference != filter.Reference {
			continue
		}
		out = append(out, t)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) BalanceAudits(_ context.Context, walletID string) ([]BalanceAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []BalanceAudit
	for _, a := range s.audits {
		if a.WalletID == walletID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) Operation(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:     s,
		wallets:   make(map[string]Wallet),
		cards:     make(map[string]Card),
		refs:      make(map[string]struct{}),
		failAfter: s.failWalletWrite,
	}
	s.failWalletWrite = 0

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for id, c := range tx.cards {
		s.cards[id] = c
	}
	for _, t := range tx.transactions {
		s.transactions = append(s.transactions, t)
		if t.Reference != "" {
			s.references[t.Reference] = struct{}{}
		}
	}
	s.audits = append(s.audits, tx.audits...)
	return nil
}

// errInjectedWrite is returned by wallet writes armed through FailWalletWrite.
var errInjectedWrite = errors.New("injected wallet write failure")

type memTx struct {
	store        *MemoryStore
	wallets      map[string]Wallet
	cards        map[string]Card
	transactions []Transaction
	refs         map[string]struct{}
	audits       []BalanceAudit

	walletWrites int
	failAfter    int
}

func (t *memTx) LockWallets(_ context.Context, ids ...string) (map[string]Wallet, error) {
	out := make(map[string]Wallet, len(ids))
	for _, id := range ids {
		w, ok := t.wallets[id]
		if !ok {
			w, ok = t.store.wallets[id]
		}
		if !ok {
			return nil, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
		}
		out[id] = w
	}
	return out, nil
}

func (t *memTx) LockCard(_ context.Context, id string) (Card, error) {
	if c, ok := t.cards[id]; ok {
		return c, nil
	}
	c, ok := t.store.cards[id]
	if !ok {
		return Card{}, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (t *memTx) UpdateWallet(_ context.Context, w Wallet) error {
	t.walletWrites++
	if t.failAfter > 0 && t.walletWrites == t.failAfter {
		return errInjectedWrite
	}
	if w.Balance.IsNegative() || w.PayoutBalance.IsNegative() {
		return ErrInsufficientFunds
	}
	t.wallets[w.ID] = w
	return nil
}

func (t *memTx) UpdateCardBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	c, err := t.LockCard(ctx, id)
	if err != nil {
		return err
	}
	if balance.IsNegative() {
		return ErrInsufficientFunds
	}
	c.Balance = balance
	t.cards[id] = c
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn Transaction) error {
	if txn.Reference != "" {
		if _, dup := t.store.references[txn.Reference]; dup {
			return fmt.Errorf("reference %s: %w", txn.Reference, ErrDuplicateTransaction)
		}
		if _, dup := t.refs[txn.Reference]; dup {
			return fmt.Errorf("reference %s: %w", txn.Reference, ErrDuplicateTransaction)
		}
		t.refs[txn.Reference] = struct{}{}
	}
	t.transactions = append(t.transactions, txn)
	return nil
}

func (t *memTx) InsertBalanceAudit(_ context.Context, a BalanceAudit) error {
	t.audits = append(t.audits, a)
	return nil
}
