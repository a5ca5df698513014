package domain

import "time"

// Broker-agnostic types for account and order state

// AccountInfo is the cash and equity snapshot of a brokerage account
type AccountInfo struct {
	BuyingPower    float64
	PortfolioValue float64
	Cash           float64
}

// Position is the current holding in one symbol. Quantity is negative for shorts.
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	MarketValue   float64
}

// IsLong reports a positive holding
func (p *Position) IsLong() bool { return p != nil && p.Quantity > 0 }

// IsShort reports a negative holding
func (p *Position) IsShort() bool { return p != nil && p.Quantity < 0 }

// Clock is the brokerage market clock
type Clock struct {
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
	Timestamp time.Time
}

// OrderRequest is a market order submission
type OrderRequest struct {
	Symbol        string
	Side          TradeSide
	Quantity      float64
	ClientOrderID string
}

// OrderResult is the broker's acknowledgement of an order
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          TradeSide
	Quantity      float64
	FilledPrice   float64 // Zero when the fill price is not yet known
	Status        string
}
