package positions

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/observability"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
)

// PriceSource tells where a valuation price came from.
type PriceSource string

const (
	PriceFromQuote   PriceSource = "quote"
	PriceFromAvgCost PriceSource = "avg_cost"
)

// ErrStaleQuote marks a quote older than the configured maximum age.
var ErrStaleQuote = errors.New("stale quote")

// Valuation is a position marked to a price.
type Valuation struct {
	Symbol        string      `json:"symbol"`
	Quantity      float64     `json:"quantity"`
	AverageCost   float64     `json:"averageCost"`
	Price         float64     `json:"price"`
	PriceSource   PriceSource `json:"priceSource"`
	QuoteTime     *time.Time  `json:"quoteTime,omitempty"`
	CostBasis     float64     `json:"costBasis"`
	MarketValue   float64     `json:"marketValue"`
	UnrealizedPnL float64     `json:"unrealizedPnL"`
	RealizedPnL   float64     `json:"realizedPnL"`
	QuoteError    string      `json:"quoteError,omitempty"`
}

// Valuer prices positions with a quote source. Lookups run concurrently and
// any failure falls back to the position's average cost.
type Valuer struct {
	source  quotes.Source
	maxAge  time.Duration
	workers int
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// ValuerOptions configures a Valuer.
type ValuerOptions struct {
	MaxAge  time.Duration
	Workers int
	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// NewValuer creates a Valuer. A nil source values everything at average cost.
func NewValuer(source quotes.Source, opts ValuerOptions) *Valuer {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Valuer{
		source:  source,
		maxAge:  opts.MaxAge,
		workers: opts.Workers,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Price returns a usable quote for symbol or an error explaining why none
// is available.
func (v *Valuer) Price(ctx context.Context, symbol string) (*quotes.Quote, error) {
	if v.source == nil {
		return nil, &quotes.QuoteLookupError{Symbol: symbol, Err: errors.New("no quote source configured")}
	}
	start := time.Now()
	q, err := v.source.GetQuote(ctx, symbol)
	v.metrics.RecordQuote(time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}
	if q == nil || q.Price <= 0 {
		return nil, &quotes.QuoteLookupError{Symbol: symbol, Err: errors.New("quote has no usable price")}
	}
	if q.IsStale(v.now(), v.maxAge) {
		return nil, &quotes.QuoteLookupError{Symbol: symbol, Err: ErrStaleQuote}
	}
	return q, nil
}

// Value marks every position with shares. Quote failures never fail the
// call; the affected position is valued at average cost.
func (v *Valuer) Value(ctx context.Context, positions []*models.Position) []Valuation {
	held := make([]*models.Position, 0, len(positions))
	for _, p := range positions {
		if p.HasShares() {
			held = append(held, p)
		}
	}

	out := make([]Valuation, len(held))
	var g errgroup.Group
	g.SetLimit(v.workers)
	for i, p := range held {
		g.Go(func() error {
			out[i] = v.valueOne(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (v *Valuer) valueOne(ctx context.Context, p *models.Position) Valuation {
	val := Valuation{
		Symbol:      p.Symbol,
		Quantity:    p.Quantity,
		AverageCost: p.AverageCost,
		RealizedPnL: p.RealizedPnL,
		Price:       p.AverageCost,
		PriceSource: PriceFromAvgCost,
	}

	q, err := v.Price(ctx, p.Symbol)
	if err != nil {
		reason := "error"
		if errors.Is(err, ErrStaleQuote) {
			reason = "stale"
		}
		v.metrics.RecordValuationFallback(reason)
		v.logger.WithError(err).WithField("symbol", p.Symbol).Warn("Quote unavailable, valuing at average cost")
		val.QuoteError = err.Error()
	} else {
		ts := q.Timestamp
		val.Price = q.Price
		val.PriceSource = PriceFromQuote
		val.QuoteTime = &ts
	}

	qty := decimal.NewFromFloat(p.Quantity)
	basis := qty.Mul(decimal.NewFromFloat(p.AverageCost))
	market := qty.Mul(decimal.NewFromFloat(val.Price))
	val.CostBasis = basis.Round(2).InexactFloat64()
	val.MarketValue = market.Round(2).InexactFloat64()
	val.UnrealizedPnL = market.Sub(basis).Round(2).InexactFloat64()
	return val
}
