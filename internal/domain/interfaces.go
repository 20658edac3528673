package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource provides the reference price used to derive order prices.
type PriceSource interface {
	// FetchLastPrice returns the last traded price for symbol.
	// Any failure, including a non-positive price, wraps ErrPriceUnavailable.
	FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Signer is the wallet capability used to authenticate against the venue.
type Signer interface {
	// Address is the 32-byte owner identity, hex encoded with 0x prefix.
	Address() string
	// Sign returns a 64-byte compact secp256k1 signature over message.
	Sign(message []byte) ([]byte, error)
}

// SessionParams carries everything InitSession needs.
type SessionParams struct {
	Signer          Signer
	NetworkURL      string
	TradingContract string
}

// TradingVenue is the venue where the buy and sell legs are placed.
// InitSession must succeed before any other call; after that the session is
// shared by all market cycles.
type TradingVenue interface {
	InitSession(ctx context.Context, params SessionParams) error
	ResolveMarket(ctx context.Context, cfg MarketConfig) (*Market, error)
	SubmitOrder(ctx context.Context, market *Market, order Order) (*OrderResult, error)
}

// Alerter receives incidents that need operator attention.
type Alerter interface {
	Alert(ctx context.Context, incident Incident) error
}

// LockManager hands out cross-process locks. Acquire returns ErrLockHeld when
// another holder owns key; the returned unlock func is safe to call twice.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
