// Package util provides money and price rounding helpers.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// Cent is the smallest currency increment reported.
const Cent = 0.01

// tickOp snaps x to a multiple of tick using decimal arithmetic so that
// values such as 1.30 with a 0.05 tick are not pushed across a boundary by
// binary float error. NaN, infinities and a zero tick return x unchanged;
// a negative tick uses its absolute value.
func tickOp(x, tick float64, op func(decimal.Decimal) decimal.Decimal) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(tick) || math.IsInf(tick, 0) {
		return x
	}
	tick = math.Abs(tick)
	if tick == 0 {
		return x
	}
	t := decimal.NewFromFloat(tick)
	return op(decimal.NewFromFloat(x).Div(t)).Mul(t).InexactFloat64()
}

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.01, 1.2345 becomes 1.23 and 1.235 becomes 1.24.
func RoundToTick(x, tick float64) float64 {
	return tickOp(x, tick, func(d decimal.Decimal) decimal.Decimal { return d.Round(0) })
}

// FloorToTick rounds x down to a multiple of tick.
func FloorToTick(x, tick float64) float64 {
	return tickOp(x, tick, decimal.Decimal.Floor)
}

// CeilToTick rounds x up to a multiple of tick.
func CeilToTick(x, tick float64) float64 {
	return tickOp(x, tick, decimal.Decimal.Ceil)
}

// RoundCents rounds a currency amount to cents.
func RoundCents(x float64) float64 {
	return RoundToTick(x, Cent)
}
