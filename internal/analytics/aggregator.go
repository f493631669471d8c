// Package analytics buckets wheel income into weekly and monthly windows and
// rolls it up per symbol.
package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/util"
)

// Period identifies the bucket width.
type Period string

const (
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// Bucket is the income attributed to one week or month. Cycles are placed by
// their relevant date; trades by their trade date.
type Bucket struct {
	Period          string    `json:"period"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	GrossPremium    float64   `json:"grossPremium"`
	Fees            float64   `json:"fees"`
	NetIncome       float64   `json:"netIncome"`
	Cycles          int       `json:"cycles"`
	CyclesCompleted int       `json:"cyclesCompleted"`
	Trades          int       `json:"trades"`
}

// SymbolStats is the per-symbol rollup.
type SymbolStats struct {
	Symbol              string  `json:"symbol"`
	TotalCycles         int     `json:"totalCycles"`
	ActiveCycles        int     `json:"activeCycles"`
	CompletedCycles     int     `json:"completedCycles"`
	WinningCycles       int     `json:"winningCycles"`
	WinRate             float64 `json:"winRate"`
	TotalPremium        float64 `json:"totalPremium"`
	TotalFees           float64 `json:"totalFees"`
	NetIncome           float64 `json:"netIncome"`
	RealizedProfit      float64 `json:"realizedProfit"`
	AverageDurationDays float64 `json:"averageDurationDays"`
}

// PeriodValue names a bucket and its net income.
type PeriodValue struct {
	Period    string  `json:"period"`
	NetIncome float64 `json:"netIncome"`
}

// Trends summarizes movement across buckets.
type Trends struct {
	MonthOverMonthChange  float64      `json:"monthOverMonthChange"`
	MonthOverMonthPercent float64      `json:"monthOverMonthPercent"`
	AverageWeeklyIncome   float64      `json:"averageWeeklyIncome"`
	BestMonth             *PeriodValue `json:"bestMonth,omitempty"`
	WorstMonth            *PeriodValue `json:"worstMonth,omitempty"`
}

// Report is the income analytics for a date range.
type Report struct {
	Start        *time.Time    `json:"start,omitempty"`
	End          *time.Time    `json:"end,omitempty"`
	Weekly       []Bucket      `json:"weekly"`
	Monthly      []Bucket      `json:"monthly"`
	BySymbol     []SymbolStats `json:"bySymbol"`
	Trends       Trends        `json:"trends"`
	TotalPremium float64       `json:"totalPremium"`
	TotalFees    float64       `json:"totalFees"`
	NetIncome    float64       `json:"netIncome"`
	WinRate      float64       `json:"winRate"`
}

// Aggregate builds the report. start and end are inclusive calendar days;
// nil leaves that side open. asOf is used for the duration of active cycles.
func Aggregate(trades []models.Trade, cycles []models.WheelCycle, start, end *time.Time, asOf time.Time) *Report {
	r := &Report{Start: start, End: end}
	inRange := func(ts time.Time) bool {
		d := models.TruncateDay(ts)
		if start != nil && d.Before(models.TruncateDay(*start)) {
			return false
		}
		if end != nil && d.After(models.TruncateDay(*end)) {
			return false
		}
		return true
	}

	weekly := newBucketSet(Weekly)
	monthly := newBucketSet(Monthly)
	symbols := make(map[string]*symbolAcc)
	var totalPremium, totalFees decimal.Decimal
	completed, wins := 0, 0

	for i := range cycles {
		c := &cycles[i]
		at := c.RelevantDate()
		if !inRange(at) {
			continue
		}
		premium := decimal.NewFromFloat(c.TotalPremiumCollected)
		fees := decimal.NewFromFloat(c.TotalFees)
		weekly.addCycle(at, premium, fees, c.IsCompleted())
		monthly.addCycle(at, premium, fees, c.IsCompleted())
		totalPremium = totalPremium.Add(premium)
		totalFees = totalFees.Add(fees)

		acc, ok := symbols[c.Symbol]
		if !ok {
			acc = &symbolAcc{symbol: c.Symbol}
			symbols[c.Symbol] = acc
		}
		acc.add(c, asOf)
		if c.IsCompleted() {
			completed++
			if c.NetProfit > 0 {
				wins++
			}
		}
	}

	for i := range trades {
		t := &trades[i]
		if !inRange(t.TradeDate) {
			continue
		}
		weekly.addTrade(t.TradeDate)
		monthly.addTrade(t.TradeDate)
	}

	r.Weekly = weekly.sorted()
	r.Monthly = monthly.sorted()
	r.BySymbol = make([]SymbolStats, 0, len(symbols))
	for _, acc := range symbols {
		r.BySymbol = append(r.BySymbol, acc.stats())
	}
	sort.Slice(r.BySymbol, func(i, j int) bool { return r.BySymbol[i].Symbol < r.BySymbol[j].Symbol })

	r.TotalPremium = util.RoundCents(totalPremium.InexactFloat64())
	r.TotalFees = util.RoundCents(totalFees.InexactFloat64())
	r.NetIncome = util.RoundCents(totalPremium.Sub(totalFees).InexactFloat64())
	r.WinRate = winRate(wins, completed)
	r.Trends = trends(r.Weekly, r.Monthly)
	return r
}

// winRate returns wins/completed, or 0 when nothing completed.
func winRate(wins, completed int) float64 {
	if completed == 0 {
		return 0
	}
	return float64(wins) / float64(completed)
}

// WeekStart returns the Monday starting the week containing ts.
func WeekStart(ts time.Time) time.Time {
	d := models.TruncateDay(ts)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// MonthStart returns the first day of the month containing ts.
func MonthStart(ts time.Time) time.Time {
	d := models.TruncateDay(ts)
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

type bucketAcc struct {
	start, end      time.Time
	label           string
	premium, fees   decimal.Decimal
	cycles          int
	cyclesCompleted int
	trades          int
}

type bucketSet struct {
	period  Period
	buckets map[time.Time]*bucketAcc
}

func newBucketSet(p Period) *bucketSet {
	return &bucketSet{period: p, buckets: make(map[time.Time]*bucketAcc)}
}

func (s *bucketSet) get(ts time.Time) *bucketAcc {
	var start, end time.Time
	var label string
	if s.period == Weekly {
		start = WeekStart(ts)
		end = start.AddDate(0, 0, 6)
		label = start.Format("2006-01-02")
	} else {
		start = MonthStart(ts)
		end = start.AddDate(0, 1, -1)
		label = start.Format("2006-01")
	}
	b, ok := s.buckets[start]
	if !ok {
		b = &bucketAcc{start: start, end: end, label: label}
		s.buckets[start] = b
	}
	return b
}

func (s *bucketSet) addCycle(ts time.Time, premium, fees decimal.Decimal, completed bool) {
	b := s.get(ts)
	b.premium = b.premium.Add(premium)
	b.fees = b.fees.Add(fees)
	b.cycles++
	if completed {
		b.cyclesCompleted++
	}
}

func (s *bucketSet) addTrade(ts time.Time) {
	s.get(ts).trades++
}

func (s *bucketSet) sorted() []Bucket {
	out := make([]Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, Bucket{
			Period:          b.label,
			Start:           b.start,
			End:             b.end,
			GrossPremium:    util.RoundCents(b.premium.InexactFloat64()),
			Fees:            util.RoundCents(b.fees.InexactFloat64()),
			NetIncome:       util.RoundCents(b.premium.Sub(b.fees).InexactFloat64()),
			Cycles:          b.cycles,
			CyclesCompleted: b.cyclesCompleted,
			Trades:          b.trades,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

type symbolAcc struct {
	symbol                    string
	total, active, done, wins int
	premium, fees, realized   decimal.Decimal
	durationDays              int
}

func (a *symbolAcc) add(c *models.WheelCycle, asOf time.Time) {
	a.total++
	a.premium = a.premium.Add(decimal.NewFromFloat(c.TotalPremiumCollected))
	a.fees = a.fees.Add(decimal.NewFromFloat(c.TotalFees))
	a.durationDays += c.DurationDays(asOf)
	if c.IsCompleted() {
		a.done++
		a.realized = a.realized.Add(decimal.NewFromFloat(c.NetProfit))
		if c.NetProfit > 0 {
			a.wins++
		}
	} else {
		a.active++
	}
}

func (a *symbolAcc) stats() SymbolStats {
	s := SymbolStats{
		Symbol:          a.symbol,
		TotalCycles:     a.total,
		ActiveCycles:    a.active,
		CompletedCycles: a.done,
		WinningCycles:   a.wins,
		WinRate:         winRate(a.wins, a.done),
		TotalPremium:    util.RoundCents(a.premium.InexactFloat64()),
		TotalFees:       util.RoundCents(a.fees.InexactFloat64()),
		NetIncome:       util.RoundCents(a.premium.Sub(a.fees).InexactFloat64()),
		RealizedProfit:  util.RoundCents(a.realized.InexactFloat64()),
	}
	if a.total > 0 {
		s.AverageDurationDays = float64(a.durationDays) / float64(a.total)
	}
	return s
}

func trends(weekly, monthly []Bucket) Trends {
	var t Trends
	if n := len(monthly); n >= 2 {
		cur := decimal.NewFromFloat(monthly[n-1].NetIncome)
		prev := decimal.NewFromFloat(monthly[n-2].NetIncome)
		change := cur.Sub(prev)
		t.MonthOverMonthChange = util.RoundCents(change.InexactFloat64())
		if !prev.IsZero() {
			t.MonthOverMonthPercent = util.RoundCents(change.Div(prev.Abs()).Mul(decimal.NewFromInt(100)).InexactFloat64())
		}
	}
	if len(weekly) > 0 {
		sum := decimal.Zero
		for _, w := range weekly {
			sum = sum.Add(decimal.NewFromFloat(w.NetIncome))
		}
		t.AverageWeeklyIncome = util.RoundCents(sum.Div(decimal.NewFromInt(int64(len(weekly)))).InexactFloat64())
	}
	for i := range monthly {
		m := monthly[i]
		if t.BestMonth == nil || m.NetIncome > t.BestMonth.NetIncome {
			t.BestMonth = &PeriodValue{Period: m.Period, NetIncome: m.NetIncome}
		}
		if t.WorstMonth == nil || m.NetIncome < t.WorstMonth.NetIncome {
			t.WorstMonth = &PeriodValue{Period: m.Period, NetIncome: m.NetIncome}
		}
	}
	return t
}
