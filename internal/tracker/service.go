// Package tracker is the engine service. A Service owns the trade cache and
// the quote source for one source location and exposes every engine
// operation over them. All derived state is recomputed from the ingested
// trade set on each call.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheel_tracker/internal/analytics"
	"github.com/eddiefleurent/wheel_tracker/internal/cycles"
	"github.com/eddiefleurent/wheel_tracker/internal/ingest"
	"github.com/eddiefleurent/wheel_tracker/internal/integrity"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/observability"
	"github.com/eddiefleurent/wheel_tracker/internal/positions"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/risk"
)

// ErrClosed is returned by operations on a closed Service.
var ErrClosed = errors.New("tracker: service closed")

// PriceFromCaller marks a safe strike computed at a caller-supplied price.
const PriceFromCaller = "provided"

// Options configures a Service.
type Options struct {
	// Location is the source location ingested by every operation.
	Location string

	// Documents lists and reads export documents. Defaults to the local filesystem.
	Documents  ingest.DocumentSource
	Workers    int
	Extensions []string

	// Quotes may be nil; valuations then fall back to average cost.
	Quotes       quotes.Source
	QuoteMaxAge  time.Duration
	QuoteWorkers int
	PollInterval time.Duration

	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Service is safe for concurrent use. Close releases quote subscriptions
// and the trade cache.
type Service struct {
	location      string
	ingestor      *ingest.Ingestor
	reconstructor *cycles.Reconstructor
	valuer        *positions.Valuer
	quotes        quotes.Source
	pollInterval  time.Duration
	logger        logrus.FieldLogger
	metrics       *observability.Metrics
	now           func() time.Time

	mu     sync.Mutex
	closed bool
	subs   []*quotes.Subscription
}

// New creates a Service for opts.Location.
func New(opts Options) (*Service, error) {
	if opts.Location == "" {
		return nil, errors.New("tracker: source location is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Documents == nil {
		opts.Documents = ingest.NewFSSource()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}

	in := ingest.NewIngestor(opts.Documents, ingest.Options{
		Workers:    opts.Workers,
		Extensions: opts.Extensions,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
		Now:        opts.Now,
	})
	valuer := positions.NewValuer(opts.Quotes, positions.ValuerOptions{
		MaxAge:  opts.QuoteMaxAge,
		Workers: opts.QuoteWorkers,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
		Now:     opts.Now,
	})

	return &Service{
		location:      opts.Location,
		ingestor:      in,
		reconstructor: cycles.NewReconstructor(opts.Logger, opts.Now),
		valuer:        valuer,
		quotes:        opts.Quotes,
		pollInterval:  opts.PollInterval,
		logger:        opts.Logger.WithField("location", opts.Location),
		metrics:       opts.Metrics,
		now:           opts.Now,
	}, nil
}

// Location returns the source location the service ingests.
func (s *Service) Location() string { return s.location }

func (s *Service) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close tears down open quote subscriptions and drops the trade cache.
// It is idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	s.ingestor.ClearCache()
	s.logger.Info("Tracker service closed")
	return nil
}

// Ingest returns the deduplicated, chronologically ordered trade set.
func (s *Service) Ingest(ctx context.Context) ([]models.Trade, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.ingestor.Ingest(ctx, s.location)
}

// ClearCache forces the next operation to re-read the source.
func (s *Service) ClearCache() {
	s.ingestor.ClearCache()
}

// LastIngestReport returns the summary of the most recent uncached read.
func (s *Service) LastIngestReport() *ingest.Report {
	return s.ingestor.LastReport()
}

// ReconstructCycles replays trades through the cycle state machine.
func (s *Service) ReconstructCycles(trades []models.Trade) *cycles.Result {
	res := s.reconstructor.Reconstruct(trades)
	s.metrics.RecordCycles(res.ActiveCycles, res.CompletedCycles)
	return res
}

// ReconcilePositions rebuilds share positions from trades, with the
// cycles of each symbol attached.
func (s *Service) ReconcilePositions(trades []models.Trade) map[string]*models.Position {
	return s.reconcile(trades, s.ReconstructCycles(trades))
}

func (s *Service) reconcile(trades []models.Trade, res *cycles.Result) map[string]*models.Position {
	out := positions.Reconcile(trades, res)
	for sym, p := range out {
		if p.UnmatchedSharesSold > 0 {
			s.logger.WithFields(logrus.Fields{
				"symbol": sym,
				"shares": p.UnmatchedSharesSold,
			}).Warn("Shares sold beyond the held quantity; no P&L realized for the excess")
		}
	}
	return out
}

// snapshot is one consistent derivation from a single ingested trade set.
type snapshot struct {
	trades    []models.Trade
	cycles    *cycles.Result
	positions map[string]*models.Position
}

func (s *Service) load(ctx context.Context) (*snapshot, error) {
	trades, err := s.Ingest(ctx)
	if err != nil {
		return nil, err
	}
	res := s.ReconstructCycles(trades)
	return &snapshot{
		trades:    trades,
		cycles:    res,
		positions: s.reconcile(trades, res),
	}, nil
}

// Cycles returns the reconstructed cycles of every symbol.
func (s *Service) Cycles(ctx context.Context) (*cycles.Result, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.cycles, nil
}

// CyclesForSymbol returns the cycles of one symbol; unknown symbols yield an
// empty slice.
func (s *Service) CyclesForSymbol(ctx context.Context, symbol string) ([]models.WheelCycle, error) {
	res, err := s.Cycles(ctx)
	if err != nil {
		return nil, err
	}
	return res.ForSymbol(symbol), nil
}

// Positions returns every position sorted by symbol.
func (s *Service) Positions(ctx context.Context) ([]*models.Position, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return positions.Sorted(snap.positions), nil
}

// Valuations marks every held position to the quote source.
func (s *Service) Valuations(ctx context.Context) ([]positions.Valuation, error) {
	ps, err := s.Positions(ctx)
	if err != nil {
		return nil, err
	}
	return s.valuer.Value(ctx, ps), nil
}

// CalculateSafeStrike returns the safe strike for symbol, or nil when no
// position exists for it. A nil price is resolved from the quote source,
// falling back to the position's average cost and then to the strike of
// its oldest active put.
func (s *Service) CalculateSafeStrike(ctx context.Context, symbol string, price *float64) (*risk.SafeStrike, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := snap.positions[cycles.NormalizeSymbol(symbol)]
	if !ok {
		return nil, nil
	}

	px, source := s.resolvePrice(ctx, p, price)
	out := risk.ForPosition(p, px)
	out.PriceSource = source
	return out, nil
}

func (s *Service) resolvePrice(ctx context.Context, p *models.Position, price *float64) (float64, string) {
	if price != nil {
		return *price, PriceFromCaller
	}
	q, err := s.valuer.Price(ctx, p.Symbol)
	if err == nil {
		return q.Price, string(positions.PriceFromQuote)
	}
	s.logger.WithError(err).WithField("symbol", p.Symbol).Warn("Quote unavailable for safe strike, using average cost")
	if p.AverageCost > 0 {
		return p.AverageCost, string(positions.PriceFromAvgCost)
	}
	for i := range p.ActiveCycles {
		if strike := p.ActiveCycles[i].PutStrike; strike > 0 {
			return strike, "put_strike"
		}
	}
	return 0, string(positions.PriceFromAvgCost)
}

// IncomeAnalytics aggregates income for the inclusive date range. Either
// bound may be nil.
func (s *Service) IncomeAnalytics(ctx context.Context, start, end *time.Time) (*analytics.Report, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.Aggregate(snap.trades, snap.cycles.All(), start, end, s.now()), nil
}

// ValidateCycleIntegrity cross-checks the current trade set, its cycles and
// the reconciled positions.
func (s *Service) ValidateCycleIntegrity(ctx context.Context) (*integrity.Result, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	res := integrity.Validate(snap.trades, snap.cycles, snap.positions)
	if !res.IsValid {
		s.logger.WithFields(logrus.Fields{
			"errors":   res.Summary.Errors,
			"warnings": res.Summary.Warnings,
		}).Warn("Cycle integrity check found errors")
	}
	return res, nil
}

// SubscribeQuotes polls the quote source for every symbol with shares or
// active cycles. The subscription is closed by Close if the caller has not
// closed it first.
func (s *Service) SubscribeQuotes(ctx context.Context) (*quotes.Subscription, error) {
	if s.quotes == nil {
		return nil, errors.New("tracker: no quote source configured")
	}
	ps, err := s.Positions(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(ps))
	for _, p := range ps {
		if p.HasShares() || len(p.ActiveCycles) > 0 {
			symbols = append(symbols, p.Symbol)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sub := quotes.Subscribe(ctx, s.quotes, symbols, s.pollInterval, s.logger)
	s.subs = append(s.subs, sub)
	return sub, nil
}
