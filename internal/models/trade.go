// Package models provides the trade, wheel cycle and position data structures
// shared by the ingestion and reconstruction engine.
package models

import (
	"math"
	"sort"
	"time"
)

// DefaultOptionMultiplier is the share count represented by one equity option contract.
const DefaultOptionMultiplier = 100.0

// AssetCategory is the broker's instrument class for a trade.
type AssetCategory string

const (
	AssetStock        AssetCategory = "STK"
	AssetOption       AssetCategory = "OPT"
	AssetFutureOption AssetCategory = "FOP"
)

// Valid returns true if the AssetCategory is one of the defined constants
func (a AssetCategory) Valid() bool {
	switch a {
	case AssetStock, AssetOption, AssetFutureOption:
		return true
	default:
		return false
	}
}

// IsOption reports whether the category is an option or future option.
func (a AssetCategory) IsOption() bool {
	return a == AssetOption || a == AssetFutureOption
}

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PutCall identifies the option right.
type PutCall string

const (
	Put  PutCall = "P"
	Call PutCall = "C"
)

// Trade is an immutable trade confirmation normalized from a broker export.
// Quantity is signed: negative for sells.
type Trade struct {
	ID               string        `json:"id"`
	TradeID          string        `json:"tradeId"`
	Symbol           string        `json:"symbol"`
	UnderlyingSymbol string        `json:"underlyingSymbol"`
	AssetCategory    AssetCategory `json:"assetCategory"`
	Currency         string        `json:"currency,omitempty"`
	Quantity         float64       `json:"quantity"`
	Price            float64       `json:"price"`
	Proceeds         float64       `json:"proceeds"`
	CommissionAndTax float64       `json:"commissionAndTax"`
	NetCash          float64       `json:"netCash"`
	BuySell          Side          `json:"buy_sell"`
	PutCall          PutCall       `json:"putCall,omitempty"`
	Strike           float64       `json:"strike,omitempty"`
	Expiry           *time.Time    `json:"expiry,omitempty"`
	Multiplier       float64       `json:"multiplier"`
	TradeDate        time.Time     `json:"tradeDate"`
	OrderTime        time.Time     `json:"orderTime"`
	DateTime         time.Time     `json:"dateTime"`
	ReportDate       time.Time     `json:"reportDate"`
	TransactionID    string        `json:"transactionId,omitempty"`
	OrderReference   string        `json:"orderReference,omitempty"`
	Exchange         string        `json:"exchange,omitempty"`
	// DateFallback is set when at least one date attribute could not be parsed
	// and the ingestion instant was substituted.
	DateFallback bool   `json:"dateFallback,omitempty"`
	Document     string `json:"document,omitempty"`
}

// IsOption reports whether the trade is an option leg.
func (t *Trade) IsOption() bool { return t.AssetCategory.IsOption() }

// IsStock reports whether the trade is a share leg.
func (t *Trade) IsStock() bool { return t.AssetCategory == AssetStock }

// IsPut reports whether the trade is a put option leg.
func (t *Trade) IsPut() bool { return t.IsOption() && t.PutCall == Put }

// IsCall reports whether the trade is a call option leg.
func (t *Trade) IsCall() bool { return t.IsOption() && t.PutCall == Call }

// IsSell reports whether the trade is a sale.
func (t *Trade) IsSell() bool { return t.BuySell == SideSell }

// IsBuy reports whether the trade is a purchase.
func (t *Trade) IsBuy() bool { return t.BuySell == SideBuy }

// Underlying returns the equity symbol the trade belongs to.
func (t *Trade) Underlying() string {
	if t.UnderlyingSymbol != "" {
		return t.UnderlyingSymbol
	}
	return t.Symbol
}

// Units returns the unsigned quantity (contracts for options, shares for stock).
func (t *Trade) Units() float64 {
	return math.Abs(t.Quantity)
}

// PremiumAmount returns the gross cash magnitude of an option leg.
func (t *Trade) PremiumAmount() float64 {
	if t.Proceeds != 0 {
		return math.Abs(t.Proceeds)
	}
	mult := t.Multiplier
	if mult == 0 {
		mult = DefaultOptionMultiplier
	}
	return math.Abs(t.Quantity) * t.Price * mult
}

// Fees returns the commission and tax magnitude.
func (t *Trade) Fees() float64 {
	return math.Abs(t.CommissionAndTax)
}

// Day returns the trade date truncated to the calendar day.
func (t *Trade) Day() time.Time {
	return TruncateDay(t.TradeDate)
}

// Timestamp returns the most precise execution time known for the trade.
func (t *Trade) Timestamp() time.Time {
	if !t.DateTime.IsZero() {
		return t.DateTime
	}
	if !t.OrderTime.IsZero() {
		return t.OrderTime
	}
	return t.TradeDate
}

// TruncateDay returns midnight UTC of the day containing ts.
func TruncateDay(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SortTrades orders trades chronologically in place: by trade day, then share
// legs before option legs on the same day, then execution time, then trade id.
func SortTrades(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return TradeLess(&trades[i], &trades[j])
	})
}

// TradeLess is the ordering used by SortTrades.
func TradeLess(a, b *Trade) bool {
	da, db := a.Day(), b.Day()
	if !da.Equal(db) {
		return da.Before(db)
	}
	if a.IsStock() != b.IsStock() {
		return a.IsStock()
	}
	ta, tb := a.Timestamp(), b.Timestamp()
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.ID < b.ID
}
