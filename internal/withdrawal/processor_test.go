package withdrawal

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/logging"
	"github.com/congo-pay/cardrail/internal/metrics"
	"github.com/congo-pay/cardrail/internal/notification"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestDrainLockIsSharedAcrossReplicas(t *testing.T) {
	mr, client := newRedis(t)
	f := newQueueFixture(t, 3)
	f.add(t, "payout_lock", "10", 0)
	exec := &fakeExecutor{liquidity: dec("1000")}
	p := NewProcessor(f.queue, exec, client, f.notifier, nil, logging.Discard(), ProcessorConfig{})

	if err := mr.Set(drainLockKey, "other-replica"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	if _, err := p.ProcessQueueManually(context.Background()); !errors.Is(err, ErrDrainInProgress) {
		t.Fatalf("expected drain in progress, got %v", err)
	}
	if len(exec.executed) != 0 {
		t.Fatal("locked drain must not execute")
	}

	mr.Del(drainLockKey)
	report, err := p.ProcessQueueManually(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("expected one processed row, got %+v", report)
	}
	if mr.Exists(drainLockKey) {
		t.Fatal("drain lock must be released after the pass")
	}
}

// blockingExecutor holds the first execution until released.
type blockingExecutor struct {
	fakeExecutor
	entered chan struct{}
	release chan struct{}
}

func (e *blockingExecutor) ExecuteQueued(ctx context.Context, w PendingWithdrawal) (string, error) {
	close(e.entered)
	<-e.release
	return e.fakeExecutor.ExecuteQueued(ctx, w)
}

func TestDrainIsSerializedInProcess(t *testing.T) {
	f := newQueueFixture(t, 3)
	f.add(t, "payout_slow", "10", 0)
	exec := &blockingExecutor{
		fakeExecutor: fakeExecutor{liquidity: dec("1000")},
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	p := NewProcessor(f.queue, exec, nil, nil, nil, logging.Discard(), ProcessorConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := p.ProcessQueueManually(context.Background())
		done <- err
	}()
	<-exec.entered
	if _, err := p.ProcessQueueManually(context.Background()); !errors.Is(err, ErrDrainInProgress) {
		t.Fatalf("expected concurrent drain to be refused, got %v", err)
	}
	close(exec.release)
	if err := <-done; err != nil {
		t.Fatalf("first drain: %v", err)
	}
}

func TestCheckLiquidityAlertsBelowThreshold(t *testing.T) {
	f := newQueueFixture(t, 3)
	m := metrics.New()
	exec := &fakeExecutor{liquidity: dec("400")}
	p := NewProcessor(f.queue, exec, nil, f.notifier, m, logging.Discard(), ProcessorConfig{
		LiquidityThreshold:  dec("1000"),
		LiquidityCurrencies: []string{"XAF"},
	})

	got, err := p.CheckLiquidity(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !got["XAF"].Equal(dec("400")) {
		t.Fatalf("expected 400 XAF, got %v", got)
	}
	if f.notifier.count(notification.KindLiquidityLow) != 1 {
		t.Fatal("expected a low liquidity alert")
	}

	exec.liquidity = dec("5000")
	if _, err := p.CheckLiquidity(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if f.notifier.count(notification.KindLiquidityLow) != 1 {
		t.Fatal("no alert expected above the threshold")
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "cardrail_payout_liquidity" {
			found = mf.GetMetric()[0].GetGauge().GetValue() == 5000
		}
	}
	if !found {
		t.Fatal("liquidity gauge not updated")
	}
}

func TestCheckLiquidityReportsRailErrors(t *testing.T) {
	f := newQueueFixture(t, 3)
	exec := &fakeExecutor{liqErr: errors.New("rail down")}
	p := NewProcessor(f.queue, exec, nil, f.notifier, nil, logging.Discard(), ProcessorConfig{})

	if _, err := p.CheckLiquidity(context.Background()); err == nil {
		t.Fatal("expected the rail error")
	}
}

func TestProcessingStatsReflectLastRuns(t *testing.T) {
	f := newQueueFixture(t, 4)
	f.add(t, "payout_1", "10", 0)
	f.add(t, "payout_2", "5000", 0)
	exec := &fakeExecutor{liquidity: dec("1000")}
	p := NewProcessor(f.queue, exec, nil, nil, nil, logging.Discard(), ProcessorConfig{DrainInterval: time.Minute})

	if _, err := p.ProcessQueueManually(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if _, err := p.CheckLiquidity(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	stats, err := p.GetProcessingStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Counts[StatusProcessed] != 1 || stats.Counts[StatusPendingFunds] != 1 {
		t.Fatalf("unexpected counts %v", stats.Counts)
	}
	if stats.MaxAttempts != 4 || stats.DrainInterval != time.Minute {
		t.Fatalf("unexpected config in stats %+v", stats)
	}
	if stats.LastDrain == nil || stats.LastDrain.Processed != 1 || stats.LastDrain.Deferred != 1 {
		t.Fatalf("unexpected last drain %+v", stats.LastDrain)
	}
	if len(stats.Currencies()) != 1 || !stats.Liquidity["XAF"].Equal(dec("1000")) {
		t.Fatalf("unexpected liquidity %v", stats.Liquidity)
	}
}

func TestArchiveTerminalUsesRetention(t *testing.T) {
	f := newQueueFixture(t, 3)
	q := f.add(t, "payout_old", "10", 0)
	if _, err := f.queue.ProcessQueue(context.Background(), &fakeExecutor{liquidity: dec("1000")}); err != nil {
		t.Fatalf("drain: %v", err)
	}
	later := f.row(t, q.QueueID).UpdatedAt.Add(48 * time.Hour)
	p := NewProcessor(f.queue, nil, nil, nil, nil, logging.Discard(), ProcessorConfig{Retention: 24 * time.Hour}).
		WithClock(func() time.Time { return later })

	n, err := p.ArchiveTerminal(context.Background())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one archived row, got %d", n)
	}
}

func TestStartRunsLoopsAndStopWaits(t *testing.T) {
	f := newQueueFixture(t, 3)
	q := f.add(t, "payout_loop", "10", 0)
	exec := &fakeExecutor{liquidity: decimal.NewFromInt(1000)}
	p := NewProcessor(f.queue, exec, nil, nil, nil, logging.Discard(), ProcessorConfig{
		DrainInterval:     10 * time.Millisecond,
		LiquidityInterval: 10 * time.Millisecond,
		ArchiveInterval:   10 * time.Millisecond,
	})

	p.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for f.row(t, q.QueueID).Status != StatusProcessed {
		if time.Now().After(deadline) {
			p.Stop()
			t.Fatal("scheduled drain never processed the row")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
}

type panickingExecutor struct{ fakeExecutor }

func (*panickingExecutor) Liquidity(context.Context, string) (decimal.Decimal, error) {
	panic("rail client bug")
}

func TestLoopSurvivesPanics(t *testing.T) {
	f := newQueueFixture(t, 3)
	p := NewProcessor(f.queue, &panickingExecutor{}, nil, nil, nil, logging.Discard(), ProcessorConfig{
		DrainInterval:     time.Hour,
		LiquidityInterval: 5 * time.Millisecond,
		ArchiveInterval:   time.Hour,
	})
	p.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	p.Stop()
}
