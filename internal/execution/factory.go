package execution

import (
	"fmt"
	"strings"

	"volume_miner/internal/domain"
	"volume_miner/internal/infra/o2"
)

// Venue modes.
const (
	ModeLive  = "live"
	ModePaper = "paper"
)

// NewVenue returns the live O2 client or a paper venue that reads market
// metadata from O2 but never submits.
func NewVenue(mode, baseURL string) (domain.TradingVenue, error) {
	switch strings.ToLower(mode) {
	case "", ModeLive:
		return o2.NewClient(baseURL), nil
	case ModePaper:
		var lister MarketLister
		if baseURL != "" {
			lister = o2.NewClient(baseURL)
		}
		return NewPaperVenue(lister, nil), nil
	default:
		return nil, fmt.Errorf("unknown venue mode %q", mode)
	}
}
