// Package execution selects the trading venue the engine submits to.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"volume_miner/internal/domain"
)

// MarketLister provides live market metadata.
type MarketLister interface {
	ListMarkets(ctx context.Context) ([]domain.Market, error)
}

// PaperOrder is a submission recorded by PaperVenue.
type PaperOrder struct {
	OrderID  string
	MarketID string
	Order    domain.Order
	At       time.Time
}

// PaperVenue simulates a venue. Markets come from a MarketLister when one is
// set, otherwise from the static list. Orders are accepted and recorded but
// never reach a chain.
type PaperVenue struct {
	lister  MarketLister
	markets []domain.Market
	logger  *slog.Logger

	mu          sync.Mutex
	initialized bool
	orders      []PaperOrder
}

// NewPaperVenue creates a paper venue. lister may be nil.
func NewPaperVenue(lister MarketLister, markets []domain.Market) *PaperVenue {
	return &PaperVenue{
		lister:  lister,
		markets: markets,
		logger:  slog.Default().With("module", "paper_venue"),
	}
}

// InitSession only checks that a signer is present.
func (p *PaperVenue) InitSession(ctx context.Context, params domain.SessionParams) error {
	if params.Signer == nil {
		return fmt.Errorf("init session: no signer")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		p.initialized = true
		p.logger.Info("PAPER_SESSION_READY", slog.String("owner", params.Signer.Address()))
	}
	return nil
}

func (p *PaperVenue) ResolveMarket(ctx context.Context, cfg domain.MarketConfig) (*domain.Market, error) {
	if !p.ready() {
		return nil, domain.ErrNotInitialized
	}

	markets := p.markets
	if p.lister != nil {
		live, err := p.lister.ListMarkets(ctx)
		if err != nil {
			return nil, err
		}
		markets = live
	}

	m, ok := domain.MatchMarket(markets, cfg)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s/%s)", domain.ErrMarketNotFound, cfg.ID, cfg.BaseSymbol, cfg.QuoteSymbol)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("market %s: %w", m.ID, err)
	}
	out := *m
	return &out, nil
}

func (p *PaperVenue) SubmitOrder(ctx context.Context, market *domain.Market, order domain.Order) (*domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil, domain.ErrNotInitialized
	}

	id := uuid.NewString()
	p.orders = append(p.orders, PaperOrder{
		OrderID:  id,
		MarketID: market.ID,
		Order:    order,
		At:       time.Now(),
	})
	p.logger.Info("PAPER_ORDER",
		slog.String("market", market.ID),
		slog.String("side", string(order.Side)),
		slog.String("price", order.Price),
		slog.String("quantity", order.Quantity),
		slog.String("order_id", id),
	)
	return &domain.OrderResult{OrderIDs: []string{id}, TxID: "paper-" + id}, nil
}

// Orders returns a copy of the recorded submissions.
func (p *PaperVenue) Orders() []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperOrder, len(p.orders))
	copy(out, p.orders)
	return out
}

func (p *PaperVenue) ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

var _ domain.TradingVenue = (*PaperVenue)(nil)
