// Package integrity cross-checks reconstructed cycles, the trade set and the
// reconciled positions for internal consistency.
package integrity

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/wheel_tracker/internal/cycles"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// Severity grades an issue. Only errors make a result invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes.
const (
	CodeMissingEndDate   = "missing_end_date"
	CodeMissingCycleType = "missing_cycle_type"
	CodePremiumMismatch  = "premium_mismatch"
	CodeTradeOrder       = "trade_order"
	CodeDuplicateTradeID = "duplicate_trade_id"
	CodeDateFallback     = "date_fallback"
	CodeSharesMismatch   = "shares_mismatch"
)

const premiumTolerance = 0.005

// Issue is a single finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Symbol   string   `json:"symbol,omitempty"`
	CycleID  string   `json:"cycleId,omitempty"`
	TradeID  string   `json:"tradeId,omitempty"`
	Message  string   `json:"message"`
}

// Summary counts what was checked and what was found.
type Summary struct {
	Cycles    int `json:"cycles"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Trades    int `json:"trades"`
	Errors    int `json:"errors"`
	Warnings  int `json:"warnings"`
}

// Result is the outcome of Validate.
type Result struct {
	IsValid bool    `json:"isValid"`
	Issues  []Issue `json:"issues"`
	Summary Summary `json:"summary"`
}

// Validate runs every check. res and positions may be nil.
func Validate(trades []models.Trade, res *cycles.Result, positions map[string]*models.Position) *Result {
	v := &validator{issues: make([]Issue, 0)}
	v.checkTrades(trades)

	all := res.All()
	for i := range all {
		v.checkCycle(&all[i])
	}
	v.checkShares(res, positions)

	out := &Result{Issues: v.issues}
	out.Summary.Cycles = len(all)
	out.Summary.Trades = len(trades)
	for i := range all {
		if all[i].IsCompleted() {
			out.Summary.Completed++
		} else {
			out.Summary.Active++
		}
	}
	for _, is := range v.issues {
		if is.Severity == SeverityError {
			out.Summary.Errors++
		} else {
			out.Summary.Warnings++
		}
	}
	out.IsValid = out.Summary.Errors == 0
	return out
}

type validator struct {
	issues []Issue
}

func (v *validator) add(is Issue) {
	v.issues = append(v.issues, is)
}

func (v *validator) checkTrades(trades []models.Trade) {
	seen := make(map[string]struct{}, len(trades))
	for i := range trades {
		t := &trades[i]
		if _, dup := seen[t.ID]; dup {
			v.add(Issue{
				Severity: SeverityError,
				Code:     CodeDuplicateTradeID,
				Symbol:   t.Underlying(),
				TradeID:  t.ID,
				Message:  fmt.Sprintf("trade id %s appears more than once", t.ID),
			})
		}
		seen[t.ID] = struct{}{}

		if t.DateFallback {
			v.add(Issue{
				Severity: SeverityWarning,
				Code:     CodeDateFallback,
				Symbol:   t.Underlying(),
				TradeID:  t.ID,
				Message:  "trade date could not be parsed; ingestion time was used",
			})
		}
	}
}

func (v *validator) checkCycle(c *models.WheelCycle) {
	if c.IsCompleted() {
		if c.EndDate == nil {
			v.add(Issue{
				Severity: SeverityError,
				Code:     CodeMissingEndDate,
				Symbol:   c.Symbol,
				CycleID:  c.ID,
				Message:  "completed cycle has no end date",
			})
		}
		if c.CycleType == models.CycleTypePending {
			v.add(Issue{
				Severity: SeverityError,
				Code:     CodeMissingCycleType,
				Symbol:   c.Symbol,
				CycleID:  c.ID,
				Message:  "completed cycle has no cycle type",
			})
		}
	}

	sum := decimal.Zero
	for i := range c.Trades {
		t := &c.Trades[i]
		if t.IsOption() && t.IsSell() {
			sum = sum.Add(decimal.NewFromFloat(t.PremiumAmount()))
		}
		if i > 0 && models.TradeLess(t, &c.Trades[i-1]) {
			v.add(Issue{
				Severity: SeverityError,
				Code:     CodeTradeOrder,
				Symbol:   c.Symbol,
				CycleID:  c.ID,
				TradeID:  t.ID,
				Message:  fmt.Sprintf("trade %s precedes trade %s", t.ID, c.Trades[i-1].ID),
			})
		}
	}
	legs := sum.InexactFloat64()
	if math.Abs(legs-c.TotalPremiumCollected) > premiumTolerance {
		v.add(Issue{
			Severity: SeverityError,
			Code:     CodePremiumMismatch,
			Symbol:   c.Symbol,
			CycleID:  c.ID,
			Message:  fmt.Sprintf("total premium %.2f does not match option sales %.2f", c.TotalPremiumCollected, legs),
		})
	}
}

// checkShares compares shares the cycles still hold against the reconciled
// position quantity per symbol.
func (v *validator) checkShares(res *cycles.Result, positions map[string]*models.Position) {
	if res == nil || positions == nil {
		return
	}
	for _, sym := range res.Symbols() {
		held := decimal.Zero
		list := res.ForSymbol(sym)
		for i := range list {
			held = held.Add(decimal.NewFromFloat(list[i].HeldShares()))
		}
		qty := 0.0
		if p, ok := positions[sym]; ok && p != nil {
			qty = p.Quantity
		}
		if math.Abs(held.InexactFloat64()-qty) > models.QuantityEpsilon {
			v.add(Issue{
				Severity: SeverityWarning,
				Code:     CodeSharesMismatch,
				Symbol:   sym,
				Message:  fmt.Sprintf("cycles hold %s shares but position quantity is %g", held.String(), qty),
			})
		}
	}
}
