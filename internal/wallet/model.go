package wallet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/ledger"
)

// Balance encapsulates the sub-balances of a wallet at a point in time.
type Balance struct {
	WalletID      string
	Currency      string
	Balance       decimal.Decimal
	PayoutBalance decimal.Decimal
	PayoutAmount  decimal.Decimal
	AsOf          time.Time
}

// Statement is a wallet with its most recent transactions and balance audits.
type Statement struct {
	Wallet       ledger.Wallet
	Transactions []ledger.Transaction
	Audits       []ledger.BalanceAudit
}
