package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix     = "pricing:v1:"
	defaultCacheTTL = 5 * time.Minute
)

// CachedRepository caches rules and rates found in next. Rules are read-only
// to the engine so a short TTL bounds staleness after an admin change.
type CachedRepository struct {
	next   Repository
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRepository wraps next with a Redis cache. A nil cache returns next.
func NewCachedRepository(next Repository, cache *redis.Client, ttl time.Duration, logger *slog.Logger) Repository {
	if cache == nil {
		return next
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRepository{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (r *CachedRepository) Fee(ctx context.Context, key FeeKey) (TransactionFee, error) {
	key = key.normalize()
	cacheKey := fmt.Sprintf("%sfee:%s:%s:%s:%s:%s", cachePrefix,
		key.CompanyID, key.TransactionType, key.TransactionCategory, key.CountryISOCode, key.Currency)

	var fee TransactionFee
	if r.load(ctx, cacheKey, &fee) {
		return fee, nil
	}
	fee, err := r.next.Fee(ctx, key)
	if err != nil {
		return TransactionFee{}, err
	}
	r.store(ctx, cacheKey, fee)
	return fee, nil
}

func (r *CachedRepository) Rate(ctx context.Context, companyID, from, to string) (ExchangeRate, error) {
	cacheKey := cachePrefix + "rate:" + rateKey(companyID, from, to)

	var rate ExchangeRate
	if r.load(ctx, cacheKey, &rate) {
		return rate, nil
	}
	rate, err := r.next.Rate(ctx, companyID, from, to)
	if err != nil {
		return ExchangeRate{}, err
	}
	r.store(ctx, cacheKey, rate)
	return rate, nil
}

func (r *CachedRepository) load(ctx context.Context, key string, out any) bool {
	val, err := r.cache.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("pricing cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (r *CachedRepository) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("pricing cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
