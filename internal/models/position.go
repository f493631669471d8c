package models

import "time"

// Position is the current share holding for a symbol, rebuilt from the full
// trade history on every call. It owns its cycle lists; cycles do not
// reference positions.
type Position struct {
	Symbol        string     `json:"symbol"`
	Quantity      float64    `json:"quantity"`
	AverageCost   float64    `json:"averageCost"`
	RealizedPnL   float64    `json:"realizedPnL"`
	SharesBought  float64    `json:"sharesBought"`
	SharesSold    float64    `json:"sharesSold"`
	LastTradeDate *time.Time `json:"lastTradeDate,omitempty"`
	// UnmatchedSharesSold counts shares sold beyond the held quantity. They
	// realize nothing because there is no cost basis to match them against.
	UnmatchedSharesSold float64      `json:"unmatchedSharesSold,omitempty"`
	ActiveCycles        []WheelCycle `json:"activeCycles"`
	CompletedCycles     []WheelCycle `json:"completedCycles"`
}

// NewPosition creates an empty position for symbol.
func NewPosition(symbol string) *Position {
	return &Position{
		Symbol:          symbol,
		ActiveCycles:    make([]WheelCycle, 0),
		CompletedCycles: make([]WheelCycle, 0),
	}
}

// HasShares returns true if the position currently holds a non-zero share count.
func (p *Position) HasShares() bool {
	return p.Quantity > QuantityEpsilon || p.Quantity < -QuantityEpsilon
}

// CostBasis returns the cost of the shares currently held at average cost.
func (p *Position) CostBasis() float64 {
	return p.Quantity * p.AverageCost
}

// ActivePremium returns the premium collected by the position's active cycles.
func (p *Position) ActivePremium() float64 {
	total := 0.0
	for i := range p.ActiveCycles {
		total += p.ActiveCycles[i].TotalPremiumCollected
	}
	return total
}

// QuantityEpsilon defines the precision tolerance for quantity comparisons
const QuantityEpsilon = 1e-6
