// Package risk computes breakeven and safe-strike levels for wheel positions.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/util"
)

// SharesPerLot is the share count the collected premium is spread over.
const SharesPerLot = 100

// StrikeIncrement is the listed-strike spacing used to snap the safe strike
// to tradable strikes.
const StrikeIncrement = 0.5

// SafeStrike is the breakeven analysis for one symbol at a price.
type SafeStrike struct {
	Symbol         string  `json:"symbol"`
	CurrentPrice   float64 `json:"currentPrice"`
	SafeStrike     float64 `json:"safeStrike"`
	BreakEvenPrice float64 `json:"breakEvenPrice"`
	PremiumBuffer  float64 `json:"premiumBuffer"`
	RiskAmount     float64 `json:"riskAmount"`
	// PutStrike is the highest listed strike at or below the safe strike;
	// CallStrike is the lowest listed strike at or above breakeven.
	PutStrike   float64 `json:"putStrike"`
	CallStrike  float64 `json:"callStrike"`
	PriceSource string  `json:"priceSource,omitempty"`
}

// Calculate returns the safe strike for price given the total premium
// collected per 100-share lot:
//
//	safeStrike = price - premium/100
//	riskAmount = max(0, (price - safeStrike) * 100)
func Calculate(symbol string, price, totalPremium float64) SafeStrike {
	p := decimal.NewFromFloat(price)
	lot := decimal.NewFromInt(SharesPerLot)
	buffer := decimal.NewFromFloat(totalPremium).Div(lot)
	safe := p.Sub(buffer)
	risk := decimal.Max(decimal.Zero, p.Sub(safe).Mul(lot))

	safeCents := util.RoundCents(safe.InexactFloat64())
	return SafeStrike{
		Symbol:         symbol,
		CurrentPrice:   price,
		SafeStrike:     safeCents,
		BreakEvenPrice: safeCents,
		PremiumBuffer:  util.RoundCents(buffer.InexactFloat64()),
		RiskAmount:     util.RoundCents(risk.InexactFloat64()),
		PutStrike:      util.FloorToTick(safeCents, StrikeIncrement),
		CallStrike:     util.CeilToTick(safeCents, StrikeIncrement),
	}
}

// ForPosition computes the safe strike from the premium of the position's
// active cycles. A nil position yields nil.
func ForPosition(p *models.Position, price float64) *SafeStrike {
	if p == nil {
		return nil
	}
	s := Calculate(p.Symbol, price, p.ActivePremium())
	return &s
}
