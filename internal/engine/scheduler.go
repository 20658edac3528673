package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"volume_miner/internal/domain"
	"volume_miner/internal/infra"
)

// LockKeyPrefix namespaces the distributed cycle lock.
const LockKeyPrefix = "volume_miner:cycle:"

// Runner executes one cycle. *MarketCycle implements it.
type Runner interface {
	Run(ctx context.Context) *CycleReport
}

// Ticker is the scheduler's clock, replaceable in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// MarketScheduler fires one market's cycle at a fixed rate. A tick that
// arrives while the previous cycle is still running is dropped, never queued.
type MarketScheduler struct {
	marketID  string
	interval  time.Duration
	runner    Runner
	guard     Guard
	locker    domain.LockManager
	lockTTL   time.Duration
	metrics   *infra.Metrics
	logger    *slog.Logger
	newTicker func(time.Duration) Ticker

	wg sync.WaitGroup
}

// SchedulerOption configures a MarketScheduler.
type SchedulerOption func(*MarketScheduler)

// WithLocker layers a cross-process lock on top of the in-process guard.
func WithLocker(l domain.LockManager, ttl time.Duration) SchedulerOption {
	return func(s *MarketScheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// WithTicker replaces the wall-clock ticker.
func WithTicker(fn func(time.Duration) Ticker) SchedulerOption {
	return func(s *MarketScheduler) { s.newTicker = fn }
}

// WithSchedulerMetrics records skips into m instead of GlobalMetrics.
func WithSchedulerMetrics(m *infra.Metrics) SchedulerOption {
	return func(s *MarketScheduler) { s.metrics = m }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *MarketScheduler) { s.logger = l }
}

// NewMarketScheduler creates the scheduler for one market.
func NewMarketScheduler(marketID string, interval time.Duration, runner Runner, opts ...SchedulerOption) *MarketScheduler {
	s := &MarketScheduler{
		marketID:  marketID,
		interval:  interval,
		runner:    runner,
		metrics:   infra.GlobalMetrics,
		logger:    slog.Default(),
		newTicker: newTimeTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("market", marketID))
	return s
}

// Run fires immediately and then every interval until ctx is done. It returns
// without waiting for the cycle in flight; call Wait for that.
func (s *MarketScheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("market %s: interval must be positive, got %s", s.marketID, s.interval)
	}

	s.logger.Info("SCHEDULER_STARTED", slog.Duration("interval", s.interval))
	s.Fire(ctx)

	t := s.newTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SCHEDULER_STOPPED")
			return nil
		case <-t.C():
			s.Fire(ctx)
		}
	}
}

// Fire starts a cycle in the background unless one is already in flight.
// It never blocks on the running cycle and reports whether a cycle started.
func (s *MarketScheduler) Fire(ctx context.Context) bool {
	release, ok := s.guard.TryAcquire()
	if !ok {
		s.metrics.CycleSkipped()
		s.logger.Info("CYCLE_SKIPPED", slog.String("reason", "previous cycle in flight"))
		return false
	}

	cycleCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		defer func() {
			if r := recover(); r != nil {
				s.metrics.PanicRecovered()
				s.logger.Error("CYCLE_PANIC_RECOVERED",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()

		if s.locker != nil {
			unlock, err := s.locker.Acquire(cycleCtx, LockKeyPrefix+s.marketID, s.lockTTL)
			if err != nil {
				s.metrics.CycleSkipped()
				if errors.Is(err, domain.ErrLockHeld) {
					s.logger.Info("CYCLE_SKIPPED", slog.String("reason", "lock held by another process"))
				} else {
					s.logger.Warn("CYCLE_SKIPPED", slog.String("reason", "lock unavailable"), slog.Any("error", err))
				}
				return
			}
			defer unlock()
		}

		s.runner.Run(cycleCtx)
	}()
	return true
}

// Busy reports whether a cycle is in flight.
func (s *MarketScheduler) Busy() bool {
	return s.guard.Busy()
}

// Wait blocks until the cycle in flight finishes or ctx is done.
func (s *MarketScheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("market %s: drain: %w", s.marketID, ctx.Err())
	}
}
