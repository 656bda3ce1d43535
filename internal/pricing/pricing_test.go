package pricing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/logging"
	"github.com/congo-pay/cardrail/internal/money"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var cardFundKey = FeeKey{CompanyID: "co", TransactionType: "fund", TransactionCategory: "card", CountryISOCode: "CM", Currency: "USD"}

func newResolver(repo Repository) *Resolver {
	rates, _ := money.ParsePairTable("USD:XAF=620")
	return NewResolver(repo, rates, logging.Discard())
}

func TestResolveFeeFixedIsAmountInvariant(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutFee(TransactionFee{Key: cardFundKey, Type: FeeFixed, Value: dec("1.5"), Active: true})
	r := newResolver(repo)

	for _, amount := range []string{"1", "20", "10000"} {
		fee, err := r.ResolveFee(context.Background(), cardFundKey, dec(amount))
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !fee.Amount.Equal(dec("1.5")) {
			t.Fatalf("amount %s: expected fee 1.5, got %s", amount, fee.Amount)
		}
	}
}

func TestResolveFeePercentageWithSurcharge(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutFee(TransactionFee{Key: cardFundKey, Type: FeePercentage, Value: dec("2"), FeeFixed: dec("0.30"), Active: true})
	r := newResolver(repo)

	fee, err := r.ResolveFee(context.Background(), cardFundKey, dec("50"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !fee.Amount.Equal(dec("1.30")) {
		t.Fatalf("expected 1.30, got %s", fee.Amount)
	}
}

func TestResolveFeePercentageFallsBackToFeePercentageColumn(t *testing.T) {
	fee := Apply(TransactionFee{Type: FeePercentage, FeePercentage: dec("1.5"), Active: true}, dec("200"))
	if !fee.Amount.Equal(dec("3")) {
		t.Fatalf("expected 3, got %s", fee.Amount)
	}
}

func TestResolveFeePercentageIsMonotonic(t *testing.T) {
	rule := TransactionFee{Type: FeePercentage, Value: dec("2.75"), FeeFixed: dec("1"), Active: true}
	prev := decimal.Zero
	for _, amount := range []string{"0", "0.01", "1", "1.01", "99.99", "100", "5000", "5000.5"} {
		fee := Apply(rule, dec(amount)).Amount
		if fee.LessThan(prev) {
			t.Fatalf("fee decreased at amount %s: %s < %s", amount, fee, prev)
		}
		prev = fee
	}
}

func TestResolveFeeMissingRule(t *testing.T) {
	r := newResolver(NewMemoryRepository())
	if _, err := r.ResolveFee(context.Background(), cardFundKey, dec("10")); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected rule not found, got %v", err)
	}

	fee, err := r.ResolveFeeOrPercent(context.Background(), cardFundKey, dec("1500"), dec("2"))
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if !fee.Fallback || !fee.Amount.Equal(dec("30")) {
		t.Fatalf("expected fallback fee 30, got %+v", fee)
	}
}

func TestResolveFeeInactiveRuleIsMissing(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutFee(TransactionFee{Key: cardFundKey, Type: FeeFixed, Value: dec("5"), Active: false})
	r := newResolver(repo)
	if _, err := r.ResolveFee(context.Background(), cardFundKey, dec("10")); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected rule not found, got %v", err)
	}
}

func TestResolveRate(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutRate(ExchangeRate{CompanyID: "co", FromCurrency: "EUR", ToCurrency: "XAF", Rate: dec("655.957"), Active: true})
	repo.PutRate(ExchangeRate{CompanyID: "co", FromCurrency: "GBP", ToCurrency: "XAF", Rate: dec("760"), Active: false})
	r := newResolver(repo)
	ctx := context.Background()

	if rate, err := r.ResolveRate(ctx, "co", "xaf", "XAF"); err != nil || !rate.Equal(dec("1")) {
		t.Fatalf("same currency: %s %v", rate, err)
	}
	if rate, err := r.ResolveRate(ctx, "co", "EUR", "XAF"); err != nil || !rate.Equal(dec("655.957")) {
		t.Fatalf("direct: %s %v", rate, err)
	}
	rate, err := r.ResolveRate(ctx, "co", "XAF", "EUR")
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(1).Div(dec("655.957"))) {
		t.Fatalf("expected inverted rate, got %s", rate)
	}
	if rate, err := r.ResolveRate(ctx, "co", "USD", "XAF"); err != nil || !rate.Equal(dec("620")) {
		t.Fatalf("fallback: %s %v", rate, err)
	}
	if _, err := r.ResolveRate(ctx, "co", "GBP", "XAF"); !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("inactive rate must not be used, got %v", err)
	}
}

func TestCachedRepositoryServesFromRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	mem := NewMemoryRepository()
	mem.PutFee(TransactionFee{Key: cardFundKey, Type: FeeFixed, Value: dec("2"), Active: true})
	repo := NewCachedRepository(mem, cache, time.Minute, logging.Discard())
	ctx := context.Background()

	if _, err := repo.Fee(ctx, cardFundKey); err != nil {
		t.Fatalf("first fee: %v", err)
	}
	mem.PutFee(TransactionFee{Key: cardFundKey, Type: FeeFixed, Value: dec("9"), Active: true})

	fee, err := repo.Fee(ctx, cardFundKey)
	if err != nil {
		t.Fatalf("cached fee: %v", err)
	}
	if !fee.Value.Equal(dec("2")) {
		t.Fatalf("expected cached value 2, got %s", fee.Value)
	}

	mr.FastForward(2 * time.Minute)
	fee, err = repo.Fee(ctx, cardFundKey)
	if err != nil {
		t.Fatalf("refreshed fee: %v", err)
	}
	if !fee.Value.Equal(dec("9")) {
		t.Fatalf("expected refreshed value 9, got %s", fee.Value)
	}
}

func TestResolveFeeMatchesKeyCaseInsensitively(t *testing.T) {
	repo := NewMemoryRepository()
	stored := FeeKey{CompanyID: "co", TransactionType: "WALLET_TO_WALLET", TransactionCategory: "WALLET", CountryISOCode: "CM", Currency: "XAF"}
	repo.PutFee(TransactionFee{Key: stored, Type: FeeFixed, Value: dec("25"), Active: true})
	r := newResolver(repo)

	lookups := []FeeKey{
		stored,
		{CompanyID: "co", TransactionType: "wallet_to_wallet", TransactionCategory: "wallet", CountryISOCode: "cm", Currency: "xaf"},
		{CompanyID: "co", TransactionType: "Wallet_To_Wallet", TransactionCategory: "Wallet", CountryISOCode: "CM", Currency: "XAF"},
	}
	for _, key := range lookups {
		fee, err := r.ResolveFeeOrPercent(context.Background(), key, dec("1000"), dec("2"))
		if err != nil {
			t.Fatalf("%+v: resolve: %v", key, err)
		}
		if fee.Fallback || !fee.Amount.Equal(dec("25")) {
			t.Fatalf("%+v: expected the stored rule, got %+v", key, fee)
		}
	}

	if _, err := r.ResolveFee(context.Background(), FeeKey{CompanyID: "CO", TransactionType: "WALLET_TO_WALLET", TransactionCategory: "WALLET", CountryISOCode: "CM", Currency: "XAF"}, dec("1")); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("company ids must match exactly, got %v", err)
	}
}

func TestFeeQueryComparesUpperCasedColumns(t *testing.T) {
	for _, col := range []string{"transaction_type", "transaction_category", "country_iso_code", "currency"} {
		if !strings.Contains(feeByKeyQuery, "upper("+col+")") {
			t.Fatalf("fee query must compare upper(%s)", col)
		}
	}
	key := FeeKey{TransactionType: "fund", TransactionCategory: "card", CountryISOCode: "cm", Currency: "usd"}.normalize()
	if key.TransactionType != "FUND" || key.TransactionCategory != "CARD" || key.CountryISOCode != "CM" || key.Currency != "USD" {
		t.Fatalf("unexpected normalized key %+v", key)
	}
}
