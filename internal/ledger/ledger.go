package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/gateway"
)

var (
	// ErrInsufficientFunds occurs when a committed mutation would leave a wallet
	// or card balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates a transaction reference already exists.
	// References are external idempotency keys and are never reused.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrNotFound is returned when a wallet, card or transaction does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStatusChanged is returned when a compare-and-set status update lost the race.
	ErrStatusChanged = errors.New("status changed concurrently")
)

// CardStatus is the lifecycle state of a card. TERMINATED is absorbing.
type CardStatus string

const (
	CardActive     CardStatus = "ACTIVE"
	CardFrozen     CardStatus = "FROZEN"
	CardTerminated CardStatus = "TERMINATED"
)

// Category groups transactions by the instrument they touch.
type Category string

const (
	CategoryCard   Category = "card"
	CategoryWallet Category = "wallet"
)

// Type is the transaction kind. Fee rules are keyed by it too.
type Type string

const (
	TypeFund             Type = "fund"
	TypeWithdraw         Type = "withdraw"
	TypePurchase         Type = "purchase"
	TypeWalletToWallet   Type = "WALLET_TO_WALLET"
	TypeExternalWithdraw Type = "EXTERNAL_WITHDRAW"
)

// Status of a transaction row.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusPending Status = "PENDING"
)

// Pool selects which wallet sub-balance a leg mutates.
type Pool string

const (
	PoolBalance Pool = "balance"
	PoolPayout  Pool = "payout_balance"
)

// Wallet is a company balance in one currency.
type Wallet struct {
	ID             string
	CompanyID      string
	Currency       string
	Balance        decimal.Decimal
	PayoutBalance  decimal.Decimal
	PayoutAmount   decimal.Decimal
	Active         bool
	Country        string
	CountryISOCode string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Card is an issued virtual card with its own USD balance.
type Card struct {
	ID             string
	CustomerID     string
	CompanyID      string
	Status         CardStatus
	Balance        decimal.Decimal
	Currency       string
	Rail           gateway.Rail
	ProviderCardID string
	// Reference is the provider account id used as the transfer endpoint.
	Reference string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an immutable audit row. Before/after balances are set by the
// Mutator for each side the transaction touches.
type Transaction struct {
	ID                  string
	Category            Category
	Type                Type
	Status              Status
	Amount              decimal.Decimal
	Currency            string
	CardID              string
	WalletID            string
	CompanyID           string
	CustomerID          string
	UserID              string
	CardBalanceBefore   decimal.NullDecimal
	CardBalanceAfter    decimal.NullDecimal
	WalletBalanceBefore decimal.NullDecimal
	WalletBalanceAfter  decimal.NullDecimal
	FeeAmount           decimal.Decimal
	NetAmount           decimal.Decimal
	AmountWithFee       decimal.Decimal
	ExchangeRate        decimal.NullDecimal
	// Reference is our idempotency key; OrderID is the rail's transfer id.
	Reference string
	OrderID   string
	Narration string
	CreatedAt time.Time
}

// BalanceAudit captures one wallet balance change.
type BalanceAudit struct {
	ID            string
	WalletID      string
	TransactionID string
	Pool          Pool
	OldBalance    decimal.Decimal
	NewBalance    decimal.Decimal
	Delta         decimal.Decimal
	CreatedAt     time.Time
}

// WalletFilter narrows wallet listings.
type WalletFilter struct {
	CompanyID  string
	Currency   string
	ActiveOnly bool
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	CompanyID string
	WalletID  string
	CardID    string
	Reference string
	Limit     int
}

// Store is the data-access contract of the ledger. Reads outside Operation are
// snapshots and must never feed a later balance write.
type Store interface {
	Wallet(ctx context.Context, id string) (Wallet, error)
	CompanyWallet(ctx context.Context, companyID, currency string) (Wallet, error)
	Wallets(ctx context.Context, filter WalletFilter) ([]Wallet, error)
	Card(ctx context.Context, id string) (Card, error)
	// SetCardStatus moves a card from one status to another, failing with
	// ErrStatusChanged when the stored status is not from.
	SetCardStatus(ctx context.Context, id string, from, to CardStatus) (Card, error)
	Transactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	BalanceAudits(ctx context.Context, walletID string) ([]BalanceAudit, error)
	// Operation runs fn inside one atomic persistence transaction.
	Operation(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side available inside Store.Operation.
type Tx interface {
	// LockWallets row-locks the wallets in ascending id order.
	LockWallets(ctx context.Context, ids ...string) (map[string]Wallet, error)
	LockCard(ctx context.Context, id string) (Card, error)
	UpdateWallet(ctx context.Context, w Wallet) error
	UpdateCardBalance(ctx context.Context, id string, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, t Transaction) error
	InsertBalanceAudit(ctx context.Context, a BalanceAudit) error
}
