package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"volume_miner/internal/domain"
)

type mockPriceSource struct {
	mock.Mock
}

func (m *mockPriceSource) FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockVenue struct {
	mock.Mock
}

func (m *mockVenue) InitSession(ctx context.Context, params domain.SessionParams) error {
	return m.Called(ctx, params).Error(0)
}

func (m *mockVenue) ResolveMarket(ctx context.Context, cfg domain.MarketConfig) (*domain.Market, error) {
	args := m.Called(ctx, cfg)
	market, _ := args.Get(0).(*domain.Market)
	return market, args.Error(1)
}

func (m *mockVenue) SubmitOrder(ctx context.Context, market *domain.Market, order domain.Order) (*domain.OrderResult, error) {
	args := m.Called(ctx, market, order)
	res, _ := args.Get(0).(*domain.OrderResult)
	return res, args.Error(1)
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Alert(ctx context.Context, incident domain.Incident) error {
	return m.Called(ctx, incident).Error(0)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	args := m.Called(ctx, key, ttl)
	unlock, _ := args.Get(0).(func())
	return unlock, args.Error(1)
}

// manualTicker is fed by the test instead of the wall clock.
type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *manualTicker) tick() { t.ch <- time.Now() }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }
