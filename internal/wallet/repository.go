package wallet

import (
	"context"

	"github.com/congo-pay/cardrail/internal/ledger"
)

// Repository is the read side of the ledger store used by wallet queries.
// Both ledger.PostgresStore and ledger.MemoryStore satisfy it.
type Repository interface {
	Wallet(ctx context.Context, id string) (ledger.Wallet, error)
	Transactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error)
	BalanceAudits(ctx context.Context, walletID string) ([]ledger.BalanceAudit, error)
}
