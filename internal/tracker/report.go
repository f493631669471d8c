package tracker

import (
	"context"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/analytics"
	"github.com/eddiefleurent/wheel_tracker/internal/cycles"
	"github.com/eddiefleurent/wheel_tracker/internal/ingest"
	"github.com/eddiefleurent/wheel_tracker/internal/integrity"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/positions"
	"github.com/eddiefleurent/wheel_tracker/internal/risk"
)

// Report is a full snapshot derived from one ingested trade set.
type Report struct {
	GeneratedAt time.Time                   `json:"generatedAt"`
	Location    string                      `json:"location"`
	Ingest      *ingest.Report              `json:"ingest,omitempty"`
	TradeCount  int                         `json:"tradeCount"`
	Cycles      *cycles.Result              `json:"cycles"`
	Positions   []*models.Position          `json:"positions"`
	Valuations  []positions.Valuation       `json:"valuations"`
	SafeStrikes map[string]*risk.SafeStrike `json:"safeStrikes"`
	Analytics   *analytics.Report           `json:"analytics"`
	Integrity   *integrity.Result           `json:"integrity"`
}

// Report builds the full snapshot. Safe strikes are computed for symbols
// with active cycles at their valuation price.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	sorted := positions.Sorted(snap.positions)
	vals := s.valuer.Value(ctx, sorted)
	bySymbol := make(map[string]positions.Valuation, len(vals))
	for _, v := range vals {
		bySymbol[v.Symbol] = v
	}

	strikes := make(map[string]*risk.SafeStrike)
	for _, p := range sorted {
		if len(p.ActiveCycles) == 0 {
			continue
		}
		var ss *risk.SafeStrike
		if v, ok := bySymbol[p.Symbol]; ok {
			ss = risk.ForPosition(p, v.Price)
			ss.PriceSource = string(v.PriceSource)
		} else {
			px, source := s.resolvePrice(ctx, p, nil)
			ss = risk.ForPosition(p, px)
			ss.PriceSource = source
		}
		strikes[p.Symbol] = ss
	}

	return &Report{
		GeneratedAt: s.now(),
		Location:    s.location,
		Ingest:      s.ingestor.LastReport(),
		TradeCount:  len(snap.trades),
		Cycles:      snap.cycles,
		Positions:   sorted,
		Valuations:  vals,
		SafeStrikes: strikes,
		Analytics:   analytics.Aggregate(snap.trades, snap.cycles.All(), nil, nil, s.now()),
		Integrity:   integrity.Validate(snap.trades, snap.cycles, snap.positions),
	}, nil
}
