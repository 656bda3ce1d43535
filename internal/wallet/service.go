package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/cardrail/internal/apperror"
	"github.com/congo-pay/cardrail/internal/ledger"
)

const (
	defaultStatementLimit = 20
	maxStatementLimit     = 100
)

// Service exposes company-scoped wallet reads.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds a wallet service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Get retrieves a wallet owned by companyID. Wallets of other companies are
// reported as not found.
func (s *Service) Get(ctx context.Context, companyID, id string) (ledger.Wallet, error) {
	w, err := s.repo.Wallet(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Wallet{}, apperror.NotFound("wallet not found")
		}
		return ledger.Wallet{}, apperror.Persistence("load wallet", err)
	}
	if w.CompanyID != companyID {
		return ledger.Wallet{}, apperror.NotFound("wallet not found")
	}
	return w, nil
}

// Balance returns the wallet's general and payout balances.
func (s *Service) Balance(ctx context.Context, companyID, id string) (Balance, error) {
	w, err := s.Get(ctx, companyID, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		WalletID:      w.ID,
		Currency:      w.Currency,
		Balance:       w.Balance,
		PayoutBalance: w.PayoutBalance,
		PayoutAmount:  w.PayoutAmount,
		AsOf:          s.now(),
	}, nil
}

// Statement returns the newest transactions and balance audits of a wallet.
func (s *Service) Statement(ctx context.Context, companyID, id string, limit int) (Statement, error) {
	w, err := s.Get(ctx, companyID, id)
	if err != nil {
		return Statement{}, err
	}
	if limit <= 0 {
		limit = defaultStatementLimit
	}
	if limit > maxStatementLimit {
		limit = maxStatementLimit
	}

	txs, err := s.repo.Transactions(ctx, ledger.TransactionFilter{CompanyID: companyID, WalletID: w.ID, Limit: limit})
	if err != nil {
		return Statement{}, apperror.Persistence("list transactions", err)
	}
	audits, err := s.repo.BalanceAudits(ctx, w.ID)
	if err != nil {
		return Statement{}, apperror.Persistence("list balance audits", err)
	}
	if len(audits) > limit {
		audits = audits[len(audits)-limit:]
	}
	return Statement{Wallet: w, Transactions: txs, Audits: audits}, nil
}
