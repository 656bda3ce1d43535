package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/gateway"
)

const uniqueViolation = "23505"

// PostgresStore persists wallets, cards and transactions in PostgreSQL. Balance
// writes happen under row locks taken in Operation.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const walletColumns = `id, company_id, currency, balance, payout_balance, payout_amount,
        active, country, country_iso_code, created_at, updated_at`

const cardColumns = `id, customer_id, company_id, status, balance, currency, provider,
        provider_card_id, reference, created_at, updated_at`

const transactionColumns = `id, category, type, status, amount, currency, card_id, wallet_id,
        company_id, customer_id, user_id, card_balance_before, card_balance_after,
        wallet_balance_before, wallet_balance_after, fee_amount, net_amount, amount_with_fee,
        exchange_rate, reference, order_id, narration, created_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.CompanyID, &w.Currency, &w.Balance, &w.PayoutBalance, &w.PayoutAmount,
		&w.Active, &w.Country, &w.CountryISOCode, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	return w, err
}

func scanCard(row pgx.Row) (Card, error) {
	var c Card
	var status, provider string
	err := row.Scan(&c.ID, &c.CustomerID, &c.CompanyID, &status, &c.Balance, &c.Currency, &provider,
		&c.ProviderCardID, &c.Reference, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Card{}, ErrNotFound
	}
	c.Status = CardStatus(status)
	c.Rail = railTag(provider)
	return c, err
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var category, typ, status string
	err := row.Scan(&t.ID, &category, &typ, &status, &t.Amount, &t.Currency, &t.CardID, &t.WalletID,
		&t.CompanyID, &t.CustomerID, &t.UserID, &t.CardBalanceBefore, &t.CardBalanceAfter,
		&t.WalletBalanceBefore, &t.WalletBalanceAfter, &t.FeeAmount, &t.NetAmount, &t.AmountWithFee,
		&t.ExchangeRate, &t.Reference, &t.OrderID, &t.Narration, &t.CreatedAt)
	t.Category = Category(category)
	t.Type = Type(typ)
	t.Status = Status(status)
	return t, err
}

// Wallet fetches a wallet by id.
func (s *PostgresStore) Wallet(ctx context.Context, id string) (Wallet, error) {
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet %s: %w", id, err)
	}
	return w, nil
}

// CompanyWallet fetches the company's wallet in currency.
func (s *PostgresStore) CompanyWallet(ctx context.Context, companyID, currency string) (Wallet, error) {
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+`
        FROM wallets WHERE company_id = $1 AND currency = $2`, companyID, strings.ToUpper(currency)))
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet %s/%s: %w", companyID, currency, err)
	}
	return w, nil
}

// Wallets lists wallets matching filter ordered by currency.
func (s *PostgresStore) Wallets(ctx context.Context, filter WalletFilter) ([]Wallet, error) {
	rows, err := s.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE ($1 = '' OR company_id = $1)
          AND ($2 = '' OR currency = $2)
          AND (NOT $3 OR active)
        ORDER BY currency`, filter.CompanyID, strings.ToUpper(filter.Currency), filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Card fetches a card by id.
func (s *PostgresStore) Card(ctx context.Context, id string) (Card, error) {
	c, err := scanCard(s.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id))
	if err != nil {
		return Card{}, fmt.Errorf("card %s: %w", id, err)
	}
	return c, nil
}

// SetCardStatus performs a compare-and-set status update.
func (s *PostgresStore) SetCardStatus(ctx context.Context, id string, from, to CardStatus) (Card, error) {
	c, err := scanCard(s.db.QueryRow(ctx, `UPDATE cards SET status = $3, updated_at = NOW()
        WHERE id = $1 AND status = $2
        RETURNING `+cardColumns, id, string(from), string(to)))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.Card(ctx, id); getErr != nil {
			return Card{}, getErr
		}
		return Card{}, ErrStatusChanged
	}
	return c, err
}

// Transactions lists transactions newest first.
func (s *PostgresStore) Transactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE ($1 = '' OR company_id = $1)
          AND ($2 = '' OR wallet_id = $2)
          AND ($3 = '' OR card_id = $3)
          AND ($4 = '' OR reference = $4)
        ORDER BY created_at DESC
        LIMIT $5`, filter.CompanyID, filter.WalletID, filter.CardID, filter.Reference, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// BalanceAudits lists the audit trail of a wallet oldest first.
func (s *PostgresStore) BalanceAudits(ctx context.Context, walletID string) ([]BalanceAudit, error) {
	rows, err := s.db.Query(ctx, `SELECT id, wallet_id, transaction_id, pool, old_balance, new_balance, delta, created_at
        FROM balance_audits WHERE wallet_id = $1 ORDER BY created_at`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceAudit
	for rows.Next() {
		var a BalanceAudit
		var pool string
		if err := rows.Scan(&a.ID, &a.WalletID, &a.TransactionID, &pool, &a.OldBalance, &a.NewBalance, &a.Delta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Pool = Pool(pool)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Operation runs fn inside a single database transaction.
func (s *PostgresStore) Operation(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallets(ctx context.Context, ids ...string) (map[string]Wallet, error) {
	out := make(map[string]Wallet, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out[w.ID] = w
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
		}
	}
	return out, nil
}

func (t *pgTx) LockCard(ctx context.Context, id string) (Card, error) {
	c, err := scanCard(t.tx.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Card{}, fmt.Errorf("card %s: %w", id, err)
	}
	return c, nil
}

func (t *pgTx) UpdateWallet(ctx context.Context, w Wallet) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets
        SET balance = $2, payout_balance = $3, payout_amount = $4, updated_at = $5
        WHERE id = $1 AND $2 >= 0 AND $3 >= 0`,
		w.ID, w.Balance, w.PayoutBalance, w.PayoutAmount, w.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("wallet %s: %w", w.ID, ErrInsufficientFunds)
	}
	return nil
}

func (t *pgTx) UpdateCardBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE cards SET balance = $2, updated_at = NOW()
        WHERE id = $1 AND $2 >= 0`, id, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("card %s: %w", id, ErrInsufficientFunds)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn Transaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		txn.ID, string(txn.Category), string(txn.Type), string(txn.Status), txn.Amount, txn.Currency,
		txn.CardID, txn.WalletID, txn.CompanyID, txn.CustomerID, txn.UserID,
		txn.CardBalanceBefore, txn.CardBalanceAfter, txn.WalletBalanceBefore, txn.WalletBalanceAfter,
		txn.FeeAmount, txn.NetAmount, txn.AmountWithFee, txn.ExchangeRate,
		txn.Reference, txn.OrderID, txn.Narration, txn.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("reference %s: %w", txn.Reference, ErrDuplicateTransaction)
		}
		return err
	}
	return nil
}

func (t *pgTx) InsertBalanceAudit(ctx context.Context, a BalanceAudit) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO balance_audits
        (id, wallet_id, transaction_id, pool, old_balance, new_balance, delta, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.WalletID, a.TransactionID, string(a.Pool), a.OldBalance, a.NewBalance, a.Delta, a.CreatedAt)
	return err
}

func railTag(provider string) gateway.Rail {
	return gateway.Rail(strings.ToLower(strings.TrimSpace(provider)))
}
