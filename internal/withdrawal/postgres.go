package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresRepository stores the queue in PostgreSQL. Status changes are
// compare-and-set updates so concurrent drains never process a row twice.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, wallet_id, amount, fee_amount, total_amount, phone_number, operator, reason,
        company_id, user_id, currency, reference, status, priority, failed_attempts,
        transaction_id, error_message, created_at, updated_at, processed_at`

func scan(row pgx.Row) (PendingWithdrawal, error) {
	var w PendingWithdrawal
	var status string
	err := row.Scan(&w.ID, &w.WalletID, &w.Amount, &w.FeeAmount, &w.TotalAmount, &w.PhoneNumber,
		&w.Operator, &w.Reason, &w.CompanyID, &w.UserID, &w.Currency, &w.Reference, &status,
		&w.Priority, &w.FailedAttempts, &w.TransactionID, &w.ErrorMessage, &w.CreatedAt,
		&w.UpdatedAt, &w.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingWithdrawal{}, ErrNotFound
	}
	w.Status = Status(status)
	return w, err
}

func collect(rows pgx.Rows) ([]PendingWithdrawal, error) {
	defer rows.Close()
	var out []PendingWithdrawal
	for rows.Next() {
		w, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Create inserts a queue row.
func (r *PostgresRepository) Create(ctx context.Context, w PendingWithdrawal) error {
	_, err := r.db.Exec(ctx, `INSERT INTO pending_withdrawals (`+columns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		w.ID, w.WalletID, w.Amount, w.FeeAmount, w.TotalAmount, w.PhoneNumber, w.Operator, w.Reason,
		w.CompanyID, w.UserID, w.Currency, w.Reference, string(w.Status), w.Priority, w.FailedAttempts,
		w.TransactionID, w.ErrorMessage, w.CreatedAt, w.UpdatedAt, w.ProcessedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("reference %s: %w", w.Reference, ErrDuplicateReference)
		}
		return fmt.Errorf("insert pending withdrawal: %w", err)
	}
	return nil
}

// Get fetches a queue row by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (PendingWithdrawal, error) {
	w, err := scan(r.db.QueryRow(ctx, `SELECT `+columns+` FROM pending_withdrawals WHERE id = $1`, id))
	if err != nil {
		return PendingWithdrawal{}, fmt.Errorf("pending withdrawal %s: %w", id, err)
	}
	return w, nil
}

// List returns rows matching filter, newest first.
func (r *PostgresRepository) List(ctx context.Context, filter Filter) ([]PendingWithdrawal, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM pending_withdrawals
        WHERE ($1 = '' OR company_id = $1)
          AND ($2 = '' OR wallet_id = $2)
          AND ($3 = '' OR status = $3)
        ORDER BY created_at DESC
        LIMIT $4`, filter.CompanyID, filter.WalletID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending withdrawals: %w", err)
	}
	return collect(rows)
}

// Eligible returns the drain snapshot.
func (r *PostgresRepository) Eligible(ctx context.Context, maxAttempts, limit int) ([]PendingWithdrawal, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM pending_withdrawals
        WHERE status = $1 AND failed_attempts < $2
        ORDER BY priority DESC, created_at ASC
        LIMIT $3`, string(StatusPendingFunds), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("eligible pending withdrawals: %w", err)
	}
	return collect(rows)
}

// Claim flips one row to PROCESSING if it is still PENDING_FUNDS.
func (r *PostgresRepository) Claim(ctx context.Context, id string, at time.Time) (PendingWithdrawal, error) {
	w, err := scan(r.db.QueryRow(ctx, `UPDATE pending_withdrawals
        SET status = $3, updated_at = $4
        WHERE id = $1 AND status = $2
        RETURNING `+columns, id, string(StatusPendingFunds), string(StatusProcessing), at))
	if errors.Is(err, ErrNotFound) {
		return PendingWithdrawal{}, r.notClaimable(ctx, id)
	}
	if err != nil {
		return PendingWithdrawal{}, fmt.Errorf("claim pending withdrawal %s: %w", id, err)
	}
	return w, nil
}

// Finish moves a PROCESSING row to its next state.
func (r *PostgresRepository) Finish(ctx context.Context, id string, t Transition) (PendingWithdrawal, error) {
	attempts := 0
	if t.IncrementAttempts {
		attempts = 1
	}
	var processedAt *time.Time
	if t.To == StatusProcessed {
		at := t.At
		processedAt = &at
	}
	w, err := scan(r.db.QueryRow(ctx, `UPDATE pending_withdrawals
        SET status = $3,
            updated_at = $4,
            failed_attempts = failed_attempts + $5,
            error_message = CASE WHEN $3 = 'PROCESSED' THEN '' WHEN $6 <> '' THEN $6 ELSE error_message END,
            transaction_id = CASE WHEN $3 = 'PROCESSED' THEN $7 ELSE transaction_id END,
            processed_at = COALESCE($8, processed_at)
        WHERE id = $1 AND status = $2
        RETURNING `+columns,
		id, string(StatusProcessing), string(t.To), t.At, attempts, t.ErrorMessage, t.TransactionID, processedAt))
	if errors.Is(err, ErrNotFound) {
		return PendingWithdrawal{}, r.notClaimable(ctx, id)
	}
	if err != nil {
		return PendingWithdrawal{}, fmt.Errorf("finish pending withdrawal %s: %w", id, err)
	}
	return w, nil
}

func (r *PostgresRepository) notClaimable(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM pending_withdrawals WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("pending withdrawal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("pending withdrawal %s is %s: %w", id, status, ErrNotClaimable)
}

// CountByStatus counts rows per state.
func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM pending_withdrawals GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count pending withdrawals: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// archiveQuery copies old terminal rows into the archive and deletes only the
// ids the insert returned. A row whose id is already archived stays live.
const archiveQuery = `WITH archived AS (
            INSERT INTO pending_withdrawals_archive (` + columns + `)
            SELECT ` + columns + ` FROM pending_withdrawals
            WHERE status IN ($1, $2) AND updated_at < $3
            ON CONFLICT (id) DO NOTHING
            RETURNING id
        )
        DELETE FROM pending_withdrawals WHERE id IN (SELECT id FROM archived)`

// Archive copies terminal rows older than cutoff into the archive table and
// removes them from the live queue in one transaction.
func (r *PostgresRepository) Archive(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tag, err := tx.Exec(ctx, archiveQuery,
		string(StatusProcessed), string(StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive pending withdrawals: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
