package domain

import "fmt"

// Side is the direction of one leg.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// OrderType is the venue order type submitted with every leg.
type OrderType string

const (
	OrderTypeSpot       OrderType = "Spot"
	OrderTypeMarket     OrderType = "Market"
	OrderTypeFillOrKill OrderType = "FillOrKill"
	OrderTypePostOnly   OrderType = "PostOnly"
)

// ParseOrderType maps the configuration spelling to an OrderType.
// An empty string selects Spot.
func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "", "spot":
		return OrderTypeSpot, nil
	case "market":
		return OrderTypeMarket, nil
	case "fill_or_kill":
		return OrderTypeFillOrKill, nil
	case "post_only":
		return OrderTypePostOnly, nil
	default:
		return "", fmt.Errorf("unknown order type %q", s)
	}
}

// Order is one leg as submitted to the venue.
// Price and Quantity are integer strings on the asset grids.
type Order struct {
	Side     Side
	Price    string
	Quantity string
	Type     OrderType
}

// OrderResult is the venue's answer to a submission.
type OrderResult struct {
	OrderIDs []string
	TxID     string
}

// Succeeded reports whether the venue created at least one order.
func (r *OrderResult) Succeeded() bool {
	return r != nil && len(r.OrderIDs) > 0
}
