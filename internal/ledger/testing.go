package ledger

import (
	"errors"
	"time"
)

// SeedWallet stores w in an in-memory store, replacing any wallet with the same id.
func SeedWallet(s *MemoryStore, w Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	w.UpdatedAt = w.CreatedAt
	s.wallets[w.ID] = w
}

// SeedCard stores c in an in-memory store, replacing any card with the same id.
func SeedCard(s *MemoryStore, c Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = CardActive
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	s.cards[c.ID] = c
}

// FailWalletWrite arms the next operation so its nth wallet write fails.
func FailWalletWrite(s *MemoryStore, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWalletWrite = n
}

// IsInjectedFailure reports whether err came from FailWalletWrite.
func IsInjectedFailure(err error) bool {
	return errors.Is(err, errInjectedWrite)
}
