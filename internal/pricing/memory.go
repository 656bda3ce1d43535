package pricing

import (
	"context"
	"strings"
	"sync"
)

// MemoryRepository keeps fee rules and rates in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	fees  map[FeeKey]TransactionFee
	rates map[string]ExchangeRate
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{fees: make(map[FeeKey]TransactionFee), rates: make(map[string]ExchangeRate)}
}

func rateKey(companyID, from, to string) string {
	return companyID + "|" + strings.ToUpper(from) + "|" + strings.ToUpper(to)
}

// PutFee stores or replaces a fee rule.
func (r *MemoryRepository) PutFee(fee TransactionFee) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fee.Key = fee.Key.normalize()
	r.fees[fee.Key] = fee
}

// PutRate stores or replaces an exchange rate.
func (r *MemoryRepository) PutRate(rate ExchangeRate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[rateKey(rate.CompanyID, rate.FromCurrency, rate.ToCurrency)] = rate
}

func (r *MemoryRepository) Fee(_ context.Context, key FeeKey) (TransactionFee, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fee, ok := r.fees[key.normalize()]
	if !ok {
		return TransactionFee{}, ErrRuleNotFound
	}
	return fee, nil
}

func (r *MemoryRepository) Rate(_ context.Context, companyID, from, to string) (ExchangeRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.rates[rateKey(companyID, from, to)]
	if !ok {
		return ExchangeRate{}, ErrRateNotFound
	}
	return rate, nil
}
