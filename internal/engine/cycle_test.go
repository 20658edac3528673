package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"volume_miner/internal/domain"
	"volume_miner/internal/infra"
)

var testMarket = &domain.Market{
	ID:    "0xmarket",
	Base:  domain.AssetSpec{Symbol: "ETH", Decimals: 9, MaxPrecision: 4},
	Quote: domain.AssetSpec{Symbol: "USDC", Decimals: 6, MaxPrecision: 2},
}

func testConfig() domain.MarketConfig {
	return domain.MarketConfig{
		ID:                        "eth-usdc",
		BaseSymbol:                "ETH",
		QuoteSymbol:               "USDC",
		BitgetSymbol:              "ETHUSDT",
		PriceAdjustmentFactor:     decimal.RequireFromString("0.1"),
		OrderUSDCValue:            decimal.NewFromInt(1000),
		OrderIntervalSeconds:      5,
		OrderPairsIntervalSeconds: 60,
	}
}

func isSide(side domain.Side) any {
	return mock.MatchedBy(func(o domain.Order) bool { return o.Side == side })
}

func newTestCycle(t *testing.T, cfg domain.MarketConfig, prices *mockPriceSource, venue *mockVenue, opts ...CycleOption) (*MarketCycle, *infra.Metrics) {
	t.Helper()
	m := &infra.Metrics{}
	base := []CycleOption{WithLogger(discardLogger()), WithMetrics(m), WithSleep(noSleep)}
	c, err := NewMarketCycle(cfg, prices, venue, append(base, opts...)...)
	require.NoError(t, err)
	return c, m
}

func TestMarketCycle_HappyPath(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	cfg := testConfig()

	prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
	venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
	venue.On("SubmitOrder", mock.Anything, testMarket, domain.Order{
		Side: domain.SideBuy, Price: "110000000", Quantity: "10000000000", Type: domain.OrderTypeSpot,
	}).Return(&domain.OrderResult{OrderIDs: []string{"b1"}, TxID: "0xt1"}, nil).Once()
	venue.On("SubmitOrder", mock.Anything, testMarket, domain.Order{
		Side: domain.SideSell, Price: "90000000", Quantity: "10000000000", Type: domain.OrderTypeSpot,
	}).Return(&domain.OrderResult{OrderIDs: []string{"s1"}, TxID: "0xt2"}, nil).Once()

	var waited []time.Duration
	c, m := newTestCycle(t, cfg, prices, venue, WithSleep(func(_ context.Context, d time.Duration) error {
		waited = append(waited, d)
		return nil
	}))

	report := c.Run(context.Background())

	assert.Equal(t, StateIdle, report.State)
	assert.NoError(t, report.Err)
	assert.Equal(t, []string{"b1"}, report.Buy.OrderIDs)
	assert.Equal(t, []string{"s1"}, report.Sell.OrderIDs)
	assert.Equal(t, 1, report.Sell.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second}, waited)
	venue.AssertExpectations(t)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.CyclesCompleted)
	assert.Equal(t, uint64(2), snap.OrdersPlaced)
	assert.Equal(t, int32(0), snap.InFlight)
}

func TestMarketCycle_PriceErrorSubmitsNothing(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	cfg := testConfig()

	prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.Zero, errors.New("timeout"))
	venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)

	c, m := newTestCycle(t, cfg, prices, venue)
	report := c.Run(context.Background())

	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, StateFetchingPrice, report.AbortedFrom)
	assert.ErrorIs(t, report.Err, domain.ErrPriceUnavailable)
	venue.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, uint64(1), m.Snapshot().CyclesAborted)
}

func TestMarketCycle_NonPositivePrice(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	cfg := testConfig()

	prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.Zero, nil)
	venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)

	c, _ := newTestCycle(t, cfg, prices, venue)
	report := c.Run(context.Background())

	assert.ErrorIs(t, report.Err, domain.ErrPriceUnavailable)
	venue.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarketCycle_USDCAuxiliaryFailure(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	cfg := testConfig()
	cfg.ConvertToUSDC = true

	prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
	prices.On("FetchLastPrice", mock.Anything, "USDCUSDT").Return(decimal.Zero, errors.New("503"))
	venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)

	c, _ := newTestCycle(t, cfg, prices, venue)
	report := c.Run(context.Background())

	assert.ErrorIs(t, report.Err, domain.ErrPriceUnavailable)
	venue.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything, mock.Anything)
	prices.AssertExpectations(t)
}

func TestMarketCycle_USDCConversion(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	cfg := testConfig()
	cfg.ConvertToUSDC = true

	prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(200), nil)
	prices.On("FetchLastPrice", mock.Anything, "USDCUSDT").Return(decimal.NewFromInt(2), nil)
	venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
	venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideBuy)).
		Return(&domain.OrderResult{OrderIDs: []string{"b1"}}, nil)
	venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideSell)).
		Return(&domain.OrderResult{OrderIDs: []string{"s1"}}, nil)

	c, _ := newTestCycle(t, cfg, prices, venue)
	report := c.Run(context.Background())

	require.Equal(t, StateIdle, report.State)
	assert.Equal(t, "110000000", report.BuyPrice)
	assert.Equal(t, "90000000", report.SellPrice)
	assert.Equal(t, "10000000000", report.Quantity)
}

func TestMarketCycle_MarketNotFound(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	cfg := testConfig()

	venue.On("ResolveMarket", mock.Anything, cfg).Return(nil, domain.ErrMarketNotFound)

	c, _ := newTestCycle(t, cfg, prices, venue)
	report := c.Run(context.Background())

	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, StateFetchingMarket, report.AbortedFrom)
	assert.ErrorIs(t, report.Err, domain.ErrMarketNotFound)
	prices.AssertNotCalled(t, "FetchLastPrice", mock.Anything, mock.Anything)
}

func TestMarketCycle_QuantityTooSmall(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	cfg := testConfig()
	cfg.OrderUSDCValue = decimal.RequireFromString("0.001")

	prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
	venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)

	c, _ := newTestCycle(t, cfg, prices, venue)
	report := c.Run(context.Background())

	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, StateSizing, report.AbortedFrom)
	assert.ErrorIs(t, report.Err, domain.ErrQuantityTooSmall)
	venue.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarketCycle_BuyFailurePolicy(t *testing.T) {
	t.Run("continue to sell", func(t *testing.T) {
		prices := &mockPriceSource{}
		venue := &mockVenue{}
		cfg := testConfig()

		prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
		venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideBuy)).
			Return(nil, domain.NewNetworkError("submit", errors.New("connection reset")))
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideSell)).
			Return(&domain.OrderResult{OrderIDs: []string{"s1"}}, nil)

		c, m := newTestCycle(t, cfg, prices, venue)
		report := c.Run(context.Background())

		assert.Equal(t, StateIdle, report.State)
		assert.False(t, report.Buy.Succeeded())
		assert.ErrorIs(t, report.Buy.Err, domain.ErrOrderSubmissionFailed)
		assert.True(t, report.Sell.Succeeded())
		assert.Equal(t, uint64(1), m.Snapshot().BuyFailures)
	})

	t.Run("skip sell", func(t *testing.T) {
		prices := &mockPriceSource{}
		venue := &mockVenue{}
		cfg := testConfig()
		cfg.SkipSellOnBuyFailure = true

		prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
		venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideBuy)).
			Return(&domain.OrderResult{}, nil)

		c, _ := newTestCycle(t, cfg, prices, venue)
		report := c.Run(context.Background())

		assert.Equal(t, StateAborted, report.State)
		assert.Equal(t, StateSubmittingBuy, report.AbortedFrom)
		assert.ErrorIs(t, report.Err, domain.ErrNoOrderIDs)
		assert.True(t, report.Sell.Skipped)
		venue.AssertNumberOfCalls(t, "SubmitOrder", 1)
	})
}

func TestMarketCycle_SellRetry(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		prices := &mockPriceSource{}
		venue := &mockVenue{}
		cfg := testConfig()

		prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
		venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideBuy)).
			Return(&domain.OrderResult{OrderIDs: []string{"b1"}}, nil)
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideSell)).
			Return(nil, domain.NewNetworkError("submit", errors.New("502"))).Twice()
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideSell)).
			Return(&domain.OrderResult{OrderIDs: []string{"s1"}}, nil).Once()

		var delays []time.Duration
		c, m := newTestCycle(t, cfg, prices, venue, WithSleep(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}))
		report := c.Run(context.Background())

		assert.Equal(t, StateIdle, report.State)
		assert.Equal(t, 3, report.Sell.Attempts)
		// inter-leg wait, then two retry delays
		assert.Equal(t, []time.Duration{5 * time.Second, 500 * time.Millisecond, 500 * time.Millisecond}, delays)
		assert.Equal(t, uint64(2), m.Snapshot().SellFailures)
	})

	t.Run("exhaustion raises one incident", func(t *testing.T) {
		prices := &mockPriceSource{}
		venue := &mockVenue{}
		alerter := &mockAlerter{}
		cfg := testConfig()

		prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
		venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideBuy)).
			Return(&domain.OrderResult{OrderIDs: []string{"b1", "b2"}}, nil)
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideSell)).
			Return(&domain.OrderResult{}, nil)
		alerter.On("Alert", mock.Anything, mock.MatchedBy(func(i domain.Incident) bool {
			return i.Kind == domain.IncidentSellExhausted &&
				i.MarketID == "eth-usdc" &&
				i.BuyOrderIDs == "b1,b2" &&
				i.Attempts == 3 &&
				i.SellPrice == "90000000"
		})).Return(nil).Once()

		c, m := newTestCycle(t, cfg, prices, venue,
			WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}),
			WithAlerters(alerter),
		)
		report := c.Run(context.Background())

		assert.Equal(t, StateAborted, report.State)
		assert.Equal(t, StateSubmittingSell, report.AbortedFrom)
		assert.ErrorIs(t, report.Err, domain.ErrNoOrderIDs)
		venue.AssertNumberOfCalls(t, "SubmitOrder", 4)
		alerter.AssertExpectations(t)
		assert.Equal(t, uint64(1), m.Snapshot().SellExhausted)
	})

	t.Run("permanent error stops early", func(t *testing.T) {
		prices := &mockPriceSource{}
		venue := &mockVenue{}
		cfg := testConfig()

		prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
		venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideBuy)).
			Return(&domain.OrderResult{OrderIDs: []string{"b1"}}, nil)
		venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideSell)).
			Return(nil, domain.NewFatalNetworkError("submit", errors.New("400 bad signature")))

		c, _ := newTestCycle(t, cfg, prices, venue)
		report := c.Run(context.Background())

		assert.Equal(t, StateAborted, report.State)
		assert.Equal(t, 1, report.Sell.Attempts)
		venue.AssertNumberOfCalls(t, "SubmitOrder", 2)
	})
}

func TestMarketCycle_BothLegsFailedFilesNoIncident(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	alerter := &mockAlerter{}
	cfg := testConfig()

	prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
	venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
	venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideBuy)).
		Return(nil, domain.NewNetworkError("submit", errors.New("connection reset")))
	venue.On("SubmitOrder", mock.Anything, testMarket, isSide(domain.SideSell)).
		Return(&domain.OrderResult{}, nil)

	c, m := newTestCycle(t, cfg, prices, venue,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}),
		WithAlerters(alerter),
	)
	report := c.Run(context.Background())

	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, StateSubmittingSell, report.AbortedFrom)
	assert.False(t, report.Buy.Succeeded())
	assert.Equal(t, 2, report.Sell.Attempts)
	alerter.AssertNotCalled(t, "Alert", mock.Anything, mock.Anything)
	assert.Equal(t, uint64(1), m.Snapshot().SellExhausted)
}

func TestMarketCycle_TransitionLogsCarryOrderParams(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	cfg := testConfig()

	prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
	venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
	venue.On("SubmitOrder", mock.Anything, testMarket, mock.Anything).
		Return(&domain.OrderResult{OrderIDs: []string{"x"}}, nil)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, _ := newTestCycle(t, cfg, prices, venue, WithLogger(logger))
	c.Run(context.Background())

	var sizedTransitions int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["msg"] != "CYCLE_STATE" {
			continue
		}
		switch rec["to"] {
		case "FetchingMarket", "FetchingPrice", "Sizing":
			assert.NotContains(t, rec, "quantity")
		default:
			sizedTransitions++
			assert.Equal(t, "110000000", rec["buy_price"])
			assert.Equal(t, "90000000", rec["sell_price"])
			assert.Equal(t, "10000000000", rec["quantity"])
		}
	}
	// SubmittingBuy, Waiting, SubmittingSell, Idle
	assert.Equal(t, 4, sizedTransitions)
}

func TestMarketCycle_IgnoresCancellation(t *testing.T) {
	prices := &mockPriceSource{}
	venue := &mockVenue{}
	cfg := testConfig()

	prices.On("FetchLastPrice", mock.Anything, "ETHUSDT").Return(decimal.NewFromInt(100), nil)
	venue.On("ResolveMarket", mock.Anything, cfg).Return(testMarket, nil)
	venue.On("SubmitOrder", mock.Anything, testMarket, mock.Anything).
		Return(&domain.OrderResult{OrderIDs: []string{"x"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sleepErr error
	c, _ := newTestCycle(t, cfg, prices, venue, WithSleep(func(ctx context.Context, _ time.Duration) error {
		sleepErr = ctx.Err()
		return sleepErr
	}))
	report := c.Run(ctx)

	assert.Equal(t, StateIdle, report.State)
	assert.NoError(t, sleepErr)
	venue.AssertNumberOfCalls(t, "SubmitOrder", 2)
}

func TestNewMarketCycle_RejectsOrderType(t *testing.T) {
	cfg := testConfig()
	cfg.OrderType = "iceberg"
	_, err := NewMarketCycle(cfg, &mockPriceSource{}, &mockVenue{})
	assert.Error(t, err)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	fixed := DefaultRetryPolicy()
	assert.Equal(t, 500*time.Millisecond, fixed.Backoff(1))
	assert.Equal(t, 500*time.Millisecond, fixed.Backoff(9))

	exp := RetryPolicy{MaxAttempts: 5, Delay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, exp.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, exp.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, exp.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, exp.Backoff(50))

	assert.Equal(t, 1, RetryPolicy{}.attempts())
}

func TestRetryPolicy_BackoffNeverWraps(t *testing.T) {
	uncapped := RetryPolicy{Delay: 500 * time.Millisecond, Multiplier: 2}
	prev := time.Duration(0)
	for _, n := range []int{1, 10, 34, 35, 36, 40, 100, 5000} {
		d := uncapped.Backoff(n)
		assert.Positive(t, d, "attempt %d", n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		prev = d
	}
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Backoff(5000))

	capped := RetryPolicy{Delay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Second}
	for _, n := range []int{5, 36, 40, 5000} {
		assert.Equal(t, 5*time.Second, capped.Backoff(n), "attempt %d", n)
	}
}

func TestRetryPolicy_TotalBackoff(t *testing.T) {
	assert.Equal(t, 4500*time.Millisecond, DefaultRetryPolicy().TotalBackoff())

	exp := RetryPolicy{MaxAttempts: 4, Delay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	// 100 + 200 + 300
	assert.Equal(t, 600*time.Millisecond, exp.TotalBackoff())

	huge := RetryPolicy{MaxAttempts: 200, Delay: time.Second, Multiplier: 10}
	assert.Equal(t, time.Duration(math.MaxInt64), huge.TotalBackoff())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "SubmittingSell", StateSubmittingSell.String())
	assert.Equal(t, "Unknown", State(99).String())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateWaiting.Terminal())
}
