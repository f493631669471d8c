// Package cycles reconstructs wheel cycles from an ordered trade history.
//
// Each underlying symbol is replayed independently. Every short put opens its
// own cycle; later trades in the same symbol move the oldest cycle that can
// accept them through the transition table in models.ValidTransitions.
package cycles

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// cycleNamespace scopes the name-based cycle IDs so the same opening trade
// always yields the same cycle ID across recomputations.
var cycleNamespace = uuid.MustParse("6f1c3c62-2b5e-4a53-9d7e-3d1f0b7a9c41")

// CycleID returns the deterministic ID of the cycle opened by tradeID.
func CycleID(symbol, tradeID string) string {
	return uuid.NewSHA1(cycleNamespace, []byte(symbol+"|"+tradeID)).String()
}

// Result is the reconstruction output for a whole trade set.
type Result struct {
	BySymbol map[string][]models.WheelCycle `json:"bySymbol"`

	TotalPremiumCollected float64 `json:"totalPremiumCollected"`
	TotalFees             float64 `json:"totalFees"`
	TotalNetProfit        float64 `json:"totalNetProfit"`
	ActiveCycles          int     `json:"activeCycles"`
	CompletedCycles       int     `json:"completedCycles"`
}

// ForSymbol returns the cycles of symbol in opening order. Unknown symbols
// yield an empty, non-nil slice.
func (r *Result) ForSymbol(symbol string) []models.WheelCycle {
	if r == nil {
		return []models.WheelCycle{}
	}
	cs, ok := r.BySymbol[NormalizeSymbol(symbol)]
	if !ok {
		return []models.WheelCycle{}
	}
	return cs
}

// All returns every cycle ordered by symbol, then start date.
func (r *Result) All() []models.WheelCycle {
	if r == nil {
		return []models.WheelCycle{}
	}
	symbols := r.Symbols()
	out := make([]models.WheelCycle, 0, r.ActiveCycles+r.CompletedCycles)
	for _, s := range symbols {
		out = append(out, r.BySymbol[s]...)
	}
	return out
}

// Symbols returns the symbols with at least one cycle, sorted.
func (r *Result) Symbols() []string {
	symbols := make([]string, 0, len(r.BySymbol))
	for s := range r.BySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// NormalizeSymbol is the grouping key for an underlying symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Reconstructor replays trades through the wheel state machine. It holds no
// state between calls.
type Reconstructor struct {
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewReconstructor creates a Reconstructor. now is the as-of clock used to
// expire options whose expiry passed after the last trade; nil means time.Now.
func NewReconstructor(logger logrus.FieldLogger, now func() time.Time) *Reconstructor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &Reconstructor{logger: logger, now: now}
}

// Reconstruct groups trades by underlying symbol and rebuilds every cycle.
// The input is not modified.
func (r *Reconstructor) Reconstruct(trades []models.Trade) *Result {
	groups := make(map[string][]models.Trade)
	for _, t := range trades {
		sym := NormalizeSymbol(t.Underlying())
		if sym == "" {
			continue
		}
		groups[sym] = append(groups[sym], t)
	}

	asOf := models.TruncateDay(r.now())
	res := &Result{BySymbol: make(map[string][]models.WheelCycle)}
	var premium, fees, net decimal.Decimal

	for sym, group := range groups {
		models.SortTrades(group)
		replay := newSymbolReplay(sym, r.logger.WithField("symbol", sym))
		for i := range group {
			replay.apply(&group[i])
		}
		replay.expireBefore(asOf)

		cycles := replay.finish()
		if len(cycles) == 0 {
			continue
		}
		res.BySymbol[sym] = cycles
		for _, b := range replay.cycles {
			premium = premium.Add(b.premium)
			fees = fees.Add(b.fees)
			net = net.Add(b.netProfit())
			if b.c.IsCompleted() {
				res.CompletedCycles++
			} else {
				res.ActiveCycles++
			}
		}
	}

	res.TotalPremiumCollected = premium.InexactFloat64()
	res.TotalFees = fees.InexactFloat64()
	res.TotalNetProfit = net.InexactFloat64()
	return res
}

// cycleBuilder accumulates money in decimal and is flattened into a
// models.WheelCycle when the replay finishes.
type cycleBuilder struct {
	c       models.WheelCycle
	premium decimal.Decimal
	fees    decimal.Decimal
	debits  decimal.Decimal
}

func (b *cycleBuilder) netProfit() decimal.Decimal {
	n := b.premium.Sub(b.fees).Sub(b.debits)
	if b.c.CycleType == models.CycleTypePutAssignedCallAssigned &&
		b.c.AssignmentPrice != nil && b.c.CallAssignmentPrice != nil && b.c.SharesAssigned != nil {
		spread := decimal.NewFromFloat(*b.c.CallAssignmentPrice).Sub(decimal.NewFromFloat(*b.c.AssignmentPrice))
		n = n.Add(spread.Mul(decimal.NewFromFloat(*b.c.SharesAssigned)))
	}
	return n
}

func (b *cycleBuilder) addTrade(t *models.Trade) {
	b.c.Trades = append(b.c.Trades, *t)
	b.fees = b.fees.Add(decimal.NewFromFloat(t.Fees()))
}

func (b *cycleBuilder) addPremium(t *models.Trade) {
	b.premium = b.premium.Add(decimal.NewFromFloat(t.PremiumAmount()))
}

type symbolReplay struct {
	symbol string
	logger logrus.FieldLogger
	cycles []*cycleBuilder
}

func newSymbolReplay(symbol string, logger logrus.FieldLogger) *symbolReplay {
	return &symbolReplay{symbol: symbol, logger: logger}
}

// apply feeds one trade. Options whose expiry day is before the trade day are
// expired first.
func (s *symbolReplay) apply(t *models.Trade) {
	day := t.Day()
	s.expireBefore(day)

	switch {
	case t.IsPut() && t.IsSell():
		s.openCycle(t)
	case t.IsStock() && t.IsBuy():
		s.putAssignment(t)
	case t.IsCall() && t.IsSell():
		s.callSale(t)
	case t.IsStock() && t.IsSell():
		s.callAssignment(t)
	case t.IsOption() && t.IsBuy():
		s.optionBuy(t)
	default:
		s.logger.WithField("trade_id", t.ID).Debug("Trade does not affect any wheel cycle")
	}
}

func (s *symbolReplay) openCycle(t *models.Trade) {
	b := &cycleBuilder{c: models.WheelCycle{
		ID:        CycleID(s.symbol, t.ID),
		Symbol:    s.symbol,
		StartDate: t.Day(),
		Status:    models.CycleActive,
		State:     models.StateNoPosition,
		Trades:    make([]models.Trade, 0, 4),
		PutSymbol: t.Symbol,
		PutStrike: t.Strike,
		PutExpiry: copyTime(t.Expiry),
		Contracts: t.Units(),
	}}
	if !s.transition(b, models.EventPutSold, t.Day()) {
		return
	}
	b.addTrade(t)
	b.addPremium(t)
	s.cycles = append(s.cycles, b)
}

// putAssignment attributes a share purchase to the oldest short put that has
// not yet expired on the trade day.
func (s *symbolReplay) putAssignment(t *models.Trade) {
	day := t.Day()
	b := s.oldest(func(b *cycleBuilder) bool {
		return b.c.State == models.StatePutOpen && (b.c.PutExpiry == nil || !models.TruncateDay(*b.c.PutExpiry).Before(day))
	})
	if b == nil {
		s.logger.WithField("trade_id", t.ID).Debug("Share purchase not linked to an open put")
		return
	}
	if !s.transition(b, models.EventPutAssigned, day) {
		return
	}
	price := t.Price
	shares := t.Units()
	b.c.AssignmentPrice = &price
	b.c.SharesAssigned = &shares
	b.addTrade(t)
}

func (s *symbolReplay) callSale(t *models.Trade) {
	day := t.Day()
	if b := s.oldest(func(b *cycleBuilder) bool { return b.c.State == models.StateSharesHeld }); b != nil {
		if !s.transition(b, models.EventCallSold, day) {
			return
		}
		b.c.CallSymbol = t.Symbol
		b.c.CallStrike = t.Strike
		b.c.CallExpiry = copyTime(t.Expiry)
		b.addTrade(t)
		b.addPremium(t)
		return
	}
	// Additional or rolled call against shares already covered.
	if b := s.newest(func(b *cycleBuilder) bool { return b.c.State == models.StateCallOpen }); b != nil {
		b.addTrade(t)
		b.addPremium(t)
		if t.Expiry != nil && (b.c.CallExpiry == nil || t.Expiry.After(*b.c.CallExpiry)) {
			b.c.CallSymbol = t.Symbol
			b.c.CallStrike = t.Strike
			b.c.CallExpiry = copyTime(t.Expiry)
		}
		return
	}
	s.logger.WithField("trade_id", t.ID).Debug("Call sale without assigned shares ignored")
}

func (s *symbolReplay) callAssignment(t *models.Trade) {
	day := t.Day()
	b := s.oldest(func(b *cycleBuilder) bool { return b.c.State == models.StateCallOpen })
	if b == nil {
		s.logger.WithField("trade_id", t.ID).Debug("Share sale not linked to an open call")
		return
	}
	price := t.Price
	b.c.CallAssignmentPrice = &price
	b.addTrade(t)
	s.transition(b, models.EventCallAssigned, day)
}

// optionBuy handles closing legs. A zero price is the broker's expiration
// record; a positive price is a buy-to-close.
func (s *symbolReplay) optionBuy(t *models.Trade) {
	day := t.Day()
	isPut := t.IsPut()
	openState := models.StateCallOpen
	if isPut {
		openState = models.StatePutOpen
	}
	legSymbol := func(b *cycleBuilder) string {
		if isPut {
			return b.c.PutSymbol
		}
		return b.c.CallSymbol
	}

	expired := t.Price == 0

	b := s.oldest(func(b *cycleBuilder) bool { return b.c.State == openState && legSymbol(b) == t.Symbol })
	if b == nil {
		// Already resolved by an earlier event, e.g. the zero-price close of
		// an assigned put or call. The owning cycle may be completed; keep the
		// leg with it without a transition.
		if owner := s.owner(t.Symbol); owner != nil {
			owner.addTrade(t)
			if !expired {
				owner.debits = owner.debits.Add(decimal.NewFromFloat(t.PremiumAmount()))
			}
			return
		}
		// An expiration record only ever closes its own leg.
		if !expired {
			b = s.oldest(func(b *cycleBuilder) bool { return b.c.State == openState })
		}
	}
	if b == nil {
		s.logger.WithField("trade_id", t.ID).Debug("Option purchase not linked to an open leg")
		return
	}

	var event models.CycleEvent
	switch {
	case isPut && expired:
		event = models.EventPutExpired
	case isPut:
		event = models.EventPutClosed
	case expired:
		event = models.EventCallExpired
	default:
		event = models.EventCallClosed
	}

	b.addTrade(t)
	if !expired {
		b.debits = b.debits.Add(decimal.NewFromFloat(t.PremiumAmount()))
	}
	s.transition(b, event, day)
	if event == models.EventCallClosed {
		b.c.CallSymbol = ""
		b.c.CallStrike = 0
		b.c.CallExpiry = nil
	}
}

// expireBefore closes every open leg whose expiry day is before day. The
// cycle's end date is the expiry itself.
func (s *symbolReplay) expireBefore(day time.Time) {
	for _, b := range s.cycles {
		switch b.c.State {
		case models.StatePutOpen:
			if b.c.PutExpiry != nil && models.TruncateDay(*b.c.PutExpiry).Before(day) {
				s.transition(b, models.EventPutExpired, models.TruncateDay(*b.c.PutExpiry))
			}
		case models.StateCallOpen:
			if b.c.CallExpiry != nil && models.TruncateDay(*b.c.CallExpiry).Before(day) {
				s.transition(b, models.EventCallExpired, models.TruncateDay(*b.c.CallExpiry))
			}
		}
	}
}

// transition applies event to the cycle. Reaching Closed completes the cycle
// with end date at.
func (s *symbolReplay) transition(b *cycleBuilder, event models.CycleEvent, at time.Time) bool {
	from := b.c.State
	to, err := models.NextState(from, event)
	if err != nil {
		s.logger.WithError(err).WithField("cycle_id", b.c.ID).Warn("Ignoring invalid cycle transition")
		return false
	}
	b.c.State = to
	if to == models.StateClosed {
		end := at
		b.c.EndDate = &end
		b.c.Status = models.CycleCompleted
		b.c.CycleType = models.CycleTypeFor(event)
	}
	s.logger.WithFields(logrus.Fields{
		"cycle_id": b.c.ID,
		"from":     from,
		"to":       to,
		"event":    event,
	}).Debug("Cycle transition")
	return true
}

func (s *symbolReplay) oldest(match func(*cycleBuilder) bool) *cycleBuilder {
	for _, b := range s.cycles {
		if b.c.IsActive() && match(b) {
			return b
		}
	}
	return nil
}

// owner returns the oldest cycle, active or completed, holding a trade in
// the option contract symbol.
func (s *symbolReplay) owner(symbol string) *cycleBuilder {
	for _, b := range s.cycles {
		for i := range b.c.Trades {
			if b.c.Trades[i].IsOption() && b.c.Trades[i].Symbol == symbol {
				return b
			}
		}
	}
	return nil
}

func (s *symbolReplay) newest(match func(*cycleBuilder) bool) *cycleBuilder {
	for i := len(s.cycles) - 1; i >= 0; i-- {
		if b := s.cycles[i]; b.c.IsActive() && match(b) {
			return b
		}
	}
	return nil
}

// finish flattens the builders into cycles ordered by start date.
func (s *symbolReplay) finish() []models.WheelCycle {
	out := make([]models.WheelCycle, 0, len(s.cycles))
	for _, b := range s.cycles {
		c := b.c
		c.TotalPremiumCollected = b.premium.InexactFloat64()
		c.TotalFees = b.fees.InexactFloat64()
		c.ClosingDebits = b.debits.InexactFloat64()
		c.NetProfit = b.netProfit().InexactFloat64()
		if c.SharesAssigned != nil && *c.SharesAssigned > 0 && c.AssignmentPrice != nil {
			perShare := b.premium.Div(decimal.NewFromFloat(*c.SharesAssigned))
			safe := decimal.NewFromFloat(*c.AssignmentPrice).Sub(perShare).Round(2).InexactFloat64()
			c.SafeStrikePrice = &safe
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
