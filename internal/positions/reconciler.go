// Package positions derives share holdings and cost basis from trade history
// and values them against a quote source.
package positions

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/wheel_tracker/internal/cycles"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

type ledger struct {
	qty      decimal.Decimal
	avgCost  decimal.Decimal
	realized decimal.Decimal
	bought   decimal.Decimal
	sold     decimal.Decimal
	excess   decimal.Decimal
}

// FromTrades rebuilds a Position for every symbol with share trades. Buys
// move the weighted-average cost; sells realize (price - average cost) per
// share held and leave the average unchanged. Shares sold beyond the held
// quantity realize nothing and are reported as unmatched. Option legs are
// ignored.
func FromTrades(trades []models.Trade) map[string]*models.Position {
	stockTrades := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if t.IsStock() {
			stockTrades = append(stockTrades, t)
		}
	}
	models.SortTrades(stockTrades)

	ledgers := make(map[string]*ledger)
	out := make(map[string]*models.Position)
	for i := range stockTrades {
		t := &stockTrades[i]
		sym := cycles.NormalizeSymbol(t.Underlying())
		if sym == "" {
			continue
		}
		l, ok := ledgers[sym]
		if !ok {
			l = &ledger{}
			ledgers[sym] = l
			out[sym] = models.NewPosition(sym)
		}

		units := decimal.NewFromFloat(t.Units())
		price := decimal.NewFromFloat(t.Price)
		if t.IsBuy() {
			if l.qty.Sign() <= 0 {
				l.avgCost = price
			} else {
				total := l.qty.Add(units)
				l.avgCost = l.qty.Mul(l.avgCost).Add(units.Mul(price)).Div(total)
			}
			l.qty = l.qty.Add(units)
			l.bought = l.bought.Add(units)
		} else {
			matched := decimal.Min(units, decimal.Max(l.qty, decimal.Zero))
			l.realized = l.realized.Add(price.Sub(l.avgCost).Mul(matched))
			l.excess = l.excess.Add(units.Sub(matched))
			l.qty = l.qty.Sub(units)
			l.sold = l.sold.Add(units)
		}

		day := t.Day()
		out[sym].LastTradeDate = &day
	}

	for sym, l := range ledgers {
		p := out[sym]
		p.Quantity = l.qty.InexactFloat64()
		p.AverageCost = l.avgCost.Round(4).InexactFloat64()
		p.RealizedPnL = l.realized.Round(2).InexactFloat64()
		p.SharesBought = l.bought.InexactFloat64()
		p.SharesSold = l.sold.InexactFloat64()
		p.UnmatchedSharesSold = l.excess.InexactFloat64()
	}
	return out
}

// AttachCycles fills each position's active and completed cycle lists,
// creating positions for symbols that only have option cycles.
func AttachCycles(positions map[string]*models.Position, res *cycles.Result) {
	if res == nil {
		return
	}
	for sym, cs := range res.BySymbol {
		p, ok := positions[sym]
		if !ok {
			p = models.NewPosition(sym)
			positions[sym] = p
		}
		p.ActiveCycles = p.ActiveCycles[:0]
		p.CompletedCycles = p.CompletedCycles[:0]
		for _, c := range cs {
			if c.IsCompleted() {
				p.CompletedCycles = append(p.CompletedCycles, c)
			} else {
				p.ActiveCycles = append(p.ActiveCycles, c)
			}
		}
	}
}

// Reconcile is FromTrades followed by AttachCycles.
func Reconcile(trades []models.Trade, res *cycles.Result) map[string]*models.Position {
	positions := FromTrades(trades)
	AttachCycles(positions, res)
	return positions
}

// Sorted returns the positions ordered by symbol.
func Sorted(positions map[string]*models.Position) []*models.Position {
	out := make([]*models.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
