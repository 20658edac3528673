package domain

import (
	"fmt"
	"time"
)

// IncidentKind classifies incidents.
type IncidentKind string

// IncidentSellExhausted: the buy leg was placed but every sell attempt failed.
// A cycle whose buy also failed holds no inventory and files nothing.
const IncidentSellExhausted IncidentKind = "sell_exhausted"

// Incident is a record for the operator. The engine only writes incidents; it
// never reads them back, so cycles stay independent of each other.
type Incident struct {
	ID          string       `gorm:"primaryKey" json:"id"`
	Kind        IncidentKind `gorm:"index" json:"kind"`
	MarketID    string       `gorm:"index" json:"market_id"`
	CycleID     string       `json:"cycle_id"`
	BuyOrderIDs string       `json:"buy_order_ids"` // comma separated
	SellPrice   string       `json:"sell_price"`
	Quantity    string       `json:"quantity"`
	Attempts    int          `json:"attempts"`
	Error       string       `json:"error"`
	Resolved    bool         `gorm:"index" json:"resolved"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Summary renders a one-paragraph description for notifications.
func (i Incident) Summary() string {
	buys := i.BuyOrderIDs
	if buys == "" {
		buys = "none"
	}
	return fmt.Sprintf("market=%s cycle=%s kind=%s attempts=%d sell_price=%s quantity=%s buy_orders=%s error=%s",
		i.MarketID, i.CycleID, i.Kind, i.Attempts, i.SellPrice, i.Quantity, buys, i.Error)
}
