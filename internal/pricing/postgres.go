package pricing

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// feeByKeyQuery binds an upper-cased FeeKey and compares it against
// upper-cased columns, the same matching MemoryRepository applies.
const feeByKeyQuery = `SELECT id, type, value, fee_fixed, fee_percentage, active, description
        FROM transaction_fees
        WHERE company_id = $1 AND upper(transaction_type) = $2 AND upper(transaction_category) = $3
          AND upper(country_iso_code) = $4 AND upper(currency) = $5 AND active`

// PostgresRepository reads fee rules and rates from PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Fee fetches the active rule for the exact composite key.
func (r *PostgresRepository) Fee(ctx context.Context, key FeeKey) (TransactionFee, error) {
	key = key.normalize()
	row := r.db.QueryRow(ctx, feeByKeyQuery,
		key.CompanyID, key.TransactionType, key.TransactionCategory, key.CountryISOCode, key.Currency)

	fee := TransactionFee{Key: key}
	var typ string
	if err := row.Scan(&fee.ID, &typ, &fee.Value, &fee.FeeFixed, &fee.FeePercentage, &fee.Active, &fee.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransactionFee{}, ErrRuleNotFound
		}
		return TransactionFee{}, err
	}
	fee.Type = FeeType(strings.ToUpper(typ))
	return fee, nil
}

// Rate fetches the stored rate for from->to.
func (r *PostgresRepository) Rate(ctx context.Context, companyID, from, to string) (ExchangeRate, error) {
	row := r.db.QueryRow(ctx, `SELECT id, rate, is_active FROM exchange_rates
        WHERE company_id = $1 AND from_currency = $2 AND to_currency = $3`,
		companyID, strings.ToUpper(from), strings.ToUpper(to))

	rate := ExchangeRate{CompanyID: companyID, FromCurrency: strings.ToUpper(from), ToCurrency: strings.ToUpper(to)}
	if err := row.Scan(&rate.ID, &rate.Rate, &rate.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExchangeRate{}, ErrRateNotFound
		}
		return ExchangeRate{}, err
	}
	return rate, nil
}
