package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	referencePrefix     = "settlement:ref:"
	defaultReferenceTTL = 7 * 24 * time.Hour
)

// ReferenceGuard reserves payment references before they reach a rail so the
// same reference is never submitted twice for different attempts.
type ReferenceGuard struct {
	cache *redis.Client
	ttl   time.Duration

	// used without Redis; process-local only
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewReferenceGuard builds a guard. A nil cache keeps reservations in memory.
func NewReferenceGuard(cache *redis.Client, ttl time.Duration) *ReferenceGuard {
	if ttl <= 0 {
		ttl = defaultReferenceTTL
	}
	return &ReferenceGuard{cache: cache, ttl: ttl, seen: make(map[string]struct{})}
}

// Reserve claims reference. It returns ErrDuplicateReference when the
// reference was claimed before.
func (g *ReferenceGuard) Reserve(ctx context.Context, reference string) error {
	if g == nil {
		return nil
	}
	if g.cache == nil {
		g.mu.Lock()
		defer g.mu.Unlock()
		if _, ok := g.seen[reference]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, reference)
		}
		g.seen[reference] = struct{}{}
		return nil
	}

	ok, err := g.cache.SetNX(ctx, referencePrefix+reference, time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve reference: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDuplicateReference, reference)
	}
	return nil
}

// Guarded wraps an adapter so every TransferFunds call reserves its reference first.
type Guarded struct {
	Adapter
	guard *ReferenceGuard
}

// WithGuard decorates adapter with guard.
func WithGuard(adapter Adapter, guard *ReferenceGuard) Adapter {
	if guard == nil {
		return adapter
	}
	return &Guarded{Adapter: adapter, guard: guard}
}

// TransferFunds reserves the reference then delegates.
func (g *Guarded) TransferFunds(ctx context.Context, req TransferRequest) (Result, error) {
	if err := g.guard.Reserve(ctx, req.Reference); err != nil {
		return Result{}, err
	}
	return g.Adapter.TransferFunds(ctx, req)
}
