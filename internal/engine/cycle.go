package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"volume_miner/internal/domain"
	"volume_miner/internal/infra"
	"volume_miner/internal/pricing"
)

// DefaultUSDCSymbol is the price source symbol used for the USDC cross rate.
const DefaultUSDCSymbol = "USDCUSDT"

// LegResult is the outcome of one side of a cycle.
type LegResult struct {
	Attempted bool
	Skipped   bool
	Attempts  int
	OrderIDs  []string
	TxID      string
	Err       error
}

// Succeeded reports whether the venue created an order for this leg.
func (l LegResult) Succeeded() bool {
	return l.Err == nil && len(l.OrderIDs) > 0
}

// CycleReport is the record of one cycle. It is logged and then discarded.
type CycleReport struct {
	MarketID       string
	CycleID        string
	State          State
	AbortedFrom    State
	Err            error
	ReferencePrice decimal.Decimal
	BuyPrice       string
	SellPrice      string
	Quantity       string
	Buy            LegResult
	Sell           LegResult
	StartedAt      time.Time
	Duration       time.Duration
}

// Aborted reports whether the cycle ended in Aborted.
func (r *CycleReport) Aborted() bool {
	return r.State == StateAborted
}

// MarketCycle runs one buy/wait/sell cycle for one configured market.
// It holds no state between runs.
type MarketCycle struct {
	cfg        domain.MarketConfig
	prices     domain.PriceSource
	venue      domain.TradingVenue
	converter  pricing.Converter
	orderType  domain.OrderType
	usdcSymbol string
	retry      RetryPolicy
	alerters   []domain.Alerter
	metrics    *infra.Metrics
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// CycleOption configures a MarketCycle.
type CycleOption func(*MarketCycle)

// WithRetryPolicy overrides the sell leg retry policy.
func WithRetryPolicy(p RetryPolicy) CycleOption {
	return func(c *MarketCycle) { c.retry = p }
}

// WithAlerters registers receivers for sell exhaustion incidents.
func WithAlerters(alerters ...domain.Alerter) CycleOption {
	return func(c *MarketCycle) { c.alerters = append(c.alerters, alerters...) }
}

// WithMetrics records cycle counters into m instead of GlobalMetrics.
func WithMetrics(m *infra.Metrics) CycleOption {
	return func(c *MarketCycle) { c.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) CycleOption {
	return func(c *MarketCycle) { c.logger = l }
}

// WithUSDCSymbol sets the cross-rate symbol used when convert_to_usdc is on.
func WithUSDCSymbol(symbol string) CycleOption {
	return func(c *MarketCycle) {
		if symbol != "" {
			c.usdcSymbol = symbol
		}
	}
}

// WithSleep replaces the inter-leg and retry wait. Tests use it to skip time.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) CycleOption {
	return func(c *MarketCycle) { c.sleep = fn }
}

// NewMarketCycle builds the cycle for cfg. The order type is resolved here so
// a bad value fails at startup, before any cycle runs.
func NewMarketCycle(cfg domain.MarketConfig, prices domain.PriceSource, venue domain.TradingVenue, opts ...CycleOption) (*MarketCycle, error) {
	orderType, err := domain.ParseOrderType(cfg.OrderType)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", cfg.ID, err)
	}

	c := &MarketCycle{
		cfg:        cfg,
		prices:     prices,
		venue:      venue,
		converter:  pricing.NewConverter(cfg),
		orderType:  orderType,
		usdcSymbol: DefaultUSDCSymbol,
		retry:      DefaultRetryPolicy(),
		metrics:    infra.GlobalMetrics,
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes one cycle to a terminal state. Cancellation of ctx is not
// honored mid-cycle: a placed buy always gets its sell attempts.
func (c *MarketCycle) Run(ctx context.Context) *CycleReport {
	ctx = context.WithoutCancel(ctx)

	report := &CycleReport{
		MarketID:  c.cfg.ID,
		CycleID:   uuid.NewString(),
		State:     StateIdle,
		StartedAt: time.Now(),
	}
	log := c.logger.With(slog.String("market", c.cfg.ID), slog.String("cycle_id", report.CycleID))

	c.metrics.CycleStarted()
	finished := false
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		c.metrics.CycleFinished(!finished || report.Aborted(), report.Duration)
	}()

	c.execute(ctx, report, log)
	finished = true

	attrs := []any{
		slog.String("state", report.State.String()),
		slog.String("buy_price", report.BuyPrice),
		slog.String("sell_price", report.SellPrice),
		slog.String("quantity", report.Quantity),
		slog.Bool("buy_ok", report.Buy.Succeeded()),
		slog.Bool("sell_ok", report.Sell.Succeeded()),
		slog.Duration("latency", time.Since(report.StartedAt)),
	}
	if report.Aborted() {
		attrs = append(attrs, slog.String("aborted_from", report.AbortedFrom.String()), slog.Any("error", report.Err))
	}
	log.Info("CYCLE_DONE", attrs...)
	return report
}

func (c *MarketCycle) execute(ctx context.Context, r *CycleReport, log *slog.Logger) {
	// FetchingMarket
	c.transition(r, StateFetchingMarket, log)
	market, err := c.venue.ResolveMarket(ctx, c.cfg)
	if err == nil && market == nil {
		err = domain.ErrMarketNotFound
	}
	if err != nil {
		log.Error("MARKET_RESOLVE_FAILED", slog.Any("error", err))
		c.abort(r, err)
		return
	}

	// FetchingPrice
	c.transition(r, StateFetchingPrice, log)
	raw, usdc, err := c.fetchPrices(ctx)
	if err != nil {
		log.Warn("PRICE_UNAVAILABLE", slog.String("symbol", c.cfg.BitgetSymbol), slog.Any("error", err))
		c.abort(r, err)
		return
	}

	// Sizing
	c.transition(r, StateSizing, log)
	ref, err := c.converter.Reference(raw, usdc)
	if err != nil {
		log.Warn("PRICE_UNAVAILABLE", slog.Any("error", err))
		c.abort(r, err)
		return
	}
	r.ReferencePrice = ref.Approx()

	quote, err := c.converter.Quote(ref, market.Quote)
	if err != nil {
		log.Error("SIZING_FAILED", slog.String("reference", r.ReferencePrice.String()), slog.Any("error", err))
		c.abort(r, err)
		return
	}
	qty, err := pricing.Size(c.cfg.OrderUSDCValue, ref, market.Base)
	if err != nil {
		log.Error("SIZING_FAILED", slog.String("reference", r.ReferencePrice.String()), slog.Any("error", err))
		c.abort(r, err)
		return
	}
	r.BuyPrice, r.SellPrice, r.Quantity = quote.Buy, quote.Sell, qty

	log.Info("ORDER_PARAMS",
		slog.String("raw_price", raw.String()),
		slog.String("reference", r.ReferencePrice.String()),
		slog.String("buy_price", r.BuyPrice),
		slog.String("sell_price", r.SellPrice),
		slog.String("quantity", r.Quantity),
	)

	// SubmittingBuy
	c.transition(r, StateSubmittingBuy, log)
	r.Buy = c.submitOnce(ctx, market, domain.SideBuy, r.BuyPrice, r.Quantity)
	if r.Buy.Succeeded() {
		c.metrics.OrderPlaced()
		log.Info("BUY_PLACED", slog.Any("order_ids", r.Buy.OrderIDs), slog.String("tx_id", r.Buy.TxID))
	} else {
		c.metrics.BuyFailed()
		log.Error("BUY_FAILED", slog.String("price", r.BuyPrice), slog.String("quantity", r.Quantity), slog.Any("error", r.Buy.Err))
		if c.cfg.SkipSellOnBuyFailure {
			r.Sell.Skipped = true
			c.abort(r, r.Buy.Err)
			return
		}
		log.Warn("CONTINUING_TO_SELL_AFTER_BUY_FAILURE")
	}

	// Waiting
	c.transition(r, StateWaiting, log)
	if err := c.sleep(ctx, c.cfg.OrderInterval()); err != nil {
		log.Warn("WAIT_INTERRUPTED", slog.Any("error", err))
	}

	// SubmittingSell
	c.transition(r, StateSubmittingSell, log)
	r.Sell = c.submitWithRetry(ctx, market, r.SellPrice, r.Quantity, log)
	if !r.Sell.Succeeded() {
		c.metrics.SellExhausted()
		attrs := []any{
			slog.Int("attempts", r.Sell.Attempts),
			slog.String("price", r.SellPrice),
			slog.String("quantity", r.Quantity),
			slog.Any("error", r.Sell.Err),
		}
		if r.Buy.Succeeded() {
			// bought inventory is left on the book unhedged
			log.Error("CRITICAL_SELL_EXHAUSTED", append(attrs, slog.Any("buy_order_ids", r.Buy.OrderIDs))...)
			c.raise(ctx, r, log)
		} else {
			log.Error("BOTH_LEGS_FAILED", append(attrs, slog.Any("buy_error", r.Buy.Err))...)
		}
		c.abort(r, r.Sell.Err)
		return
	}
	c.metrics.OrderPlaced()
	log.Info("SELL_PLACED", slog.Any("order_ids", r.Sell.OrderIDs), slog.String("tx_id", r.Sell.TxID), slog.Int("attempts", r.Sell.Attempts))

	c.transition(r, StateIdle, log)
}

func (c *MarketCycle) fetchPrices(ctx context.Context) (raw, usdc decimal.Decimal, err error) {
	raw, err = c.prices.FetchLastPrice(ctx, c.cfg.BitgetSymbol)
	if err != nil {
		return raw, usdc, asPriceUnavailable(c.cfg.BitgetSymbol, err)
	}
	if !raw.IsPositive() {
		return raw, usdc, fmt.Errorf("%w: %s returned %s", domain.ErrPriceUnavailable, c.cfg.BitgetSymbol, raw)
	}
	if !c.cfg.ConvertToUSDC {
		return raw, usdc, nil
	}

	usdc, err = c.prices.FetchLastPrice(ctx, c.usdcSymbol)
	if err != nil {
		return raw, usdc, asPriceUnavailable(c.usdcSymbol, err)
	}
	if !usdc.IsPositive() {
		return raw, usdc, fmt.Errorf("%w: %s returned %s", domain.ErrPriceUnavailable, c.usdcSymbol, usdc)
	}
	return raw, usdc, nil
}

func asPriceUnavailable(symbol string, err error) error {
	if errors.Is(err, domain.ErrPriceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, symbol, err)
}

func (c *MarketCycle) submitOnce(ctx context.Context, market *domain.Market, side domain.Side, price, qty string) LegResult {
	leg := LegResult{Attempted: true, Attempts: 1}
	res, err := c.venue.SubmitOrder(ctx, market, domain.Order{
		Side:     side,
		Price:    price,
		Quantity: qty,
		Type:     c.orderType,
	})
	switch {
	case err != nil:
		leg.Err = fmt.Errorf("%w: %w", domain.ErrOrderSubmissionFailed, err)
	case !res.Succeeded():
		leg.Err = fmt.Errorf("%w: %w", domain.ErrOrderSubmissionFailed, domain.ErrNoOrderIDs)
		if res != nil {
			leg.TxID = res.TxID
		}
	default:
		leg.OrderIDs = res.OrderIDs
		leg.TxID = res.TxID
	}
	return leg
}

func (c *MarketCycle) submitWithRetry(ctx context.Context, market *domain.Market, price, qty string, log *slog.Logger) LegResult {
	maxAttempts := c.retry.attempts()
	var leg LegResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		leg = c.submitOnce(ctx, market, domain.SideSell, price, qty)
		leg.Attempts = attempt
		if leg.Succeeded() {
			return leg
		}

		c.metrics.SellFailed()
		log.Warn("SELL_FAILED", slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts), slog.Any("error", leg.Err))

		if domain.IsPermanent(leg.Err) {
			log.Error("SELL_NOT_RETRIABLE", slog.Any("error", leg.Err))
			return leg
		}
		if attempt < maxAttempts {
			if err := c.sleep(ctx, c.retry.Backoff(attempt)); err != nil {
				return leg
			}
		}
	}
	return leg
}

func (c *MarketCycle) raise(ctx context.Context, r *CycleReport, log *slog.Logger) {
	if len(c.alerters) == 0 {
		return
	}
	incident := domain.Incident{
		ID:          uuid.NewString(),
		Kind:        domain.IncidentSellExhausted,
		MarketID:    r.MarketID,
		CycleID:     r.CycleID,
		BuyOrderIDs: strings.Join(r.Buy.OrderIDs, ","),
		SellPrice:   r.SellPrice,
		Quantity:    r.Quantity,
		Attempts:    r.Sell.Attempts,
		CreatedAt:   time.Now(),
	}
	if r.Sell.Err != nil {
		incident.Error = r.Sell.Err.Error()
	}

	for _, a := range c.alerters {
		if err := a.Alert(ctx, incident); err != nil {
			log.Error("ALERT_FAILED", slog.String("incident_id", incident.ID), slog.Any("error", err))
		}
	}
}

func (c *MarketCycle) transition(r *CycleReport, next State, log *slog.Logger) {
	attrs := []any{
		slog.String("from", r.State.String()),
		slog.String("to", next.String()),
		slog.Duration("elapsed", time.Since(r.StartedAt)),
	}
	if r.Quantity != "" {
		attrs = append(attrs,
			slog.String("buy_price", r.BuyPrice),
			slog.String("sell_price", r.SellPrice),
			slog.String("quantity", r.Quantity),
		)
	}
	log.Debug("CYCLE_STATE", attrs...)
	r.State = next
}

func (c *MarketCycle) abort(r *CycleReport, err error) {
	r.AbortedFrom = r.State
	r.State = StateAborted
	r.Err = err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
