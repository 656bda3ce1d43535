package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/metrics"
	"github.com/congo-pay/cardrail/internal/money"
	"github.com/congo-pay/cardrail/internal/notification"
)

const drainLockKey = "withdrawal:drain:lock"

var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ProcessorConfig holds the scheduler intervals and liquidity alerting.
type ProcessorConfig struct {
	DrainInterval     time.Duration
	LiquidityInterval time.Duration
	ArchiveInterval   time.Duration
	// Retention is how long terminal rows stay in the live queue.
	Retention time.Duration
	// LockTTL bounds how long a crashed replica can hold the drain lock.
	LockTTL             time.Duration
	LiquidityThreshold  decimal.Decimal
	LiquidityCurrencies []string
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.DrainInterval <= 0 {
		c.DrainInterval = 5 * time.Minute
	}
	if c.LiquidityInterval <= 0 {
		c.LiquidityInterval = time.Hour
	}
	if c.ArchiveInterval <= 0 {
		c.ArchiveInterval = 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if len(c.LiquidityCurrencies) == 0 {
		c.LiquidityCurrencies = []string{"XAF"}
	}
	return c
}

// Stats is the operator view of the queue and the scheduler.
type Stats struct {
	Counts          map[Status]int
	MaxAttempts     int
	LastDrain       *DrainReport
	Liquidity       map[string]decimal.Decimal
	LiquidityAt     time.Time
	LastArchived    int
	LastArchivedAt  time.Time
	DrainInterval   time.Duration
	LiquidityPeriod time.Duration
}

// Processor runs the queue drain, the liquidity watch and the archival on
// fixed intervals. Drains are serialized per process and, when Redis is
// configured, across replicas.
type Processor struct {
	queue    *Queue
	exec     Executor
	cache    *redis.Client
	notifier notification.Notifier
	metrics  *metrics.Collectors
	logger   *slog.Logger
	cfg      ProcessorConfig
	now      func() time.Time

	draining sync.Mutex

	mu           sync.RWMutex
	lastDrain    *DrainReport
	liquidity    map[string]decimal.Decimal
	liquidityAt  time.Time
	lastArchived int
	archivedAt   time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessor builds a processor. cache may be nil for single-replica runs.
func NewProcessor(queue *Queue, exec Executor, cache *redis.Client, notifier notification.Notifier, m *metrics.Collectors, logger *slog.Logger, cfg ProcessorConfig) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		queue:     queue,
		exec:      exec,
		cache:     cache,
		notifier:  notifier,
		metrics:   m,
		logger:    logger.With("component", "withdrawal_processor"),
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
		liquidity: make(map[string]decimal.Decimal),
	}
}

// WithClock replaces the processor clock.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Start launches the background loops. They stop when ctx is cancelled or
// Stop is called.
func (p *Processor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.loop(ctx, "drain", p.cfg.DrainInterval, func(ctx context.Context) {
		if _, err := p.drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) && !errors.Is(err, context.Canceled) {
			p.logger.Error("scheduled drain failed", slog.Any("error", err))
		}
	})
	p.loop(ctx, "liquidity", p.cfg.LiquidityInterval, func(ctx context.Context) {
		if _, err := p.CheckLiquidity(ctx); err != nil {
			p.logger.Error("liquidity check failed", slog.Any("error", err))
		}
	})
	p.loop(ctx, "archive", p.cfg.ArchiveInterval, func(ctx context.Context) {
		if _, err := p.ArchiveTerminal(ctx); err != nil {
			p.logger.Error("archive failed", slog.Any("error", err))
		}
	})
	p.logger.Info("withdrawal processor started",
		slog.Duration("drain_interval", p.cfg.DrainInterval),
		slog.Duration("liquidity_interval", p.cfg.LiquidityInterval),
		slog.Duration("archive_interval", p.cfg.ArchiveInterval))
}

// Stop cancels the loops and waits for the running iteration to return.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Processor) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			p.runSafely(ctx, name, fn)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// runSafely keeps a panicking iteration from taking its loop down.
func (p *Processor) runSafely(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor iteration panicked",
				slog.String("loop", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn(ctx)
}

// ProcessQueueManually runs a drain pass on demand. It returns
// ErrDrainInProgress when a pass is already running.
func (p *Processor) ProcessQueueManually(ctx context.Context) (DrainReport, error) {
	p.logger.Info("manual drain requested")
	return p.drain(ctx)
}

func (p *Processor) drain(ctx context.Context) (DrainReport, error) {
	if !p.draining.TryLock() {
		return DrainReport{}, ErrDrainInProgress
	}
	defer p.draining.Unlock()

	release, err := p.acquire(ctx)
	if err != nil {
		return DrainReport{}, err
	}
	defer release()

	report, err := p.queue.ProcessQueue(ctx, p.exec)
	p.mu.Lock()
	p.lastDrain = &report
	p.mu.Unlock()
	return report, err
}

// acquire takes the cross-replica drain lock when Redis is configured.
func (p *Processor) acquire(ctx context.Context) (func(), error) {
	if p.cache == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := p.cache.SetNX(ctx, drainLockKey, token, p.cfg.LockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire drain lock: %w", err)
	}
	if !ok {
		return nil, ErrDrainInProgress
	}
	return func() {
		if err := releaseLock.Run(context.WithoutCancel(ctx), p.cache, []string{drainLockKey}, token).Err(); err != nil {
			p.logger.Warn("release drain lock failed", slog.Any("error", err))
		}
	}, nil
}

// CheckLiquidity polls the payout rail for every watched currency and alerts
// operators when a balance is below the threshold.
func (p *Processor) CheckLiquidity(ctx context.Context) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(p.cfg.LiquidityCurrencies))
	var errs []error
	for _, currency := range p.cfg.LiquidityCurrencies {
		amount, err := p.exec.Liquidity(ctx, currency)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", currency, err))
			continue
		}
		out[currency] = amount
		p.metrics.Liquidity(currency, amount.InexactFloat64())
		if amount.LessThan(p.cfg.LiquidityThreshold) {
			p.logger.Warn("payout liquidity below threshold",
				slog.String("currency", currency),
				slog.String("liquidity", amount.String()),
				slog.String("threshold", p.cfg.LiquidityThreshold.String()))
			notification.Dispatch(ctx, p.notifier, p.logger, notification.Message{
				Kind:        notification.KindLiquidityLow,
				Destination: "operations",
				Body: fmt.Sprintf("Payout liquidity %s is below %s",
					money.Format(amount, currency), money.Format(p.cfg.LiquidityThreshold, currency)),
				Attributes: map[string]string{
					"currency":  currency,
					"liquidity": amount.String(),
					"threshold": p.cfg.LiquidityThreshold.String(),
				},
			})
		}
	}

	p.mu.Lock()
	for c, a := range out {
		p.liquidity[c] = a
	}
	p.liquidityAt = p.now()
	p.mu.Unlock()
	return out, errors.Join(errs...)
}

// ArchiveTerminal moves PROCESSED and FAILED rows older than the retention
// window out of the live queue.
func (p *Processor) ArchiveTerminal(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.cfg.Retention)
	n, err := p.queue.Archive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.lastArchived = n
	p.archivedAt = p.now()
	p.mu.Unlock()
	if n > 0 {
		p.logger.Info("archived terminal withdrawals", slog.Int("count", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// GetProcessingStats reports counts per state and the last scheduler results.
func (p *Processor) GetProcessingStats(ctx context.Context) (Stats, error) {
	counts, err := p.queue.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := Stats{
		Counts:          counts,
		MaxAttempts:     p.queue.MaxAttempts(),
		Liquidity:       make(map[string]decimal.Decimal, len(p.liquidity)),
		LiquidityAt:     p.liquidityAt,
		LastArchived:    p.lastArchived,
		LastArchivedAt:  p.archivedAt,
		DrainInterval:   p.cfg.DrainInterval,
		LiquidityPeriod: p.cfg.LiquidityInterval,
	}
	if p.lastDrain != nil {
		last := *p.lastDrain
		stats.LastDrain = &last
	}
	for c, a := range p.liquidity {
		stats.Liquidity[c] = a
	}
	return stats, nil
}

// Currencies returns the watched currencies in a stable order.
func (s Stats) Currencies() []string {
	out := make([]string, 0, len(s.Liquidity))
	for c := range s.Liquidity {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
