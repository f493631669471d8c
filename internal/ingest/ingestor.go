// Package ingest turns a directory of broker export documents into one
// deduplicated, chronologically ordered trade set and caches it per location.
package ingest

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/eddiefleurent/wheel_tracker/internal/flex"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/observability"
)

// DefaultWorkers bounds concurrent document parsing when Options.Workers is unset.
const DefaultWorkers = 4

// DefaultExtensions are the document suffixes treated as export documents.
var DefaultExtensions = []string{".xml"}

// Options configures an Ingestor.
type Options struct {
	Workers    int
	Extensions []string
	Logger     logrus.FieldLogger
	Metrics    *observability.Metrics
	// Now supplies the fallback instant for unparseable dates.
	Now func() time.Time
}

// Report summarizes one uncached ingestion run.
type Report struct {
	Location      string                  `json:"location"`
	Documents     int                     `json:"documents"`
	Skipped       []string                `json:"skipped,omitempty"`
	Failed        []*DocumentError        `json:"failed,omitempty"`
	Rejected      []*flex.ValidationError `json:"rejected,omitempty"`
	DateFallbacks []*flex.DateParseError  `json:"dateFallbacks,omitempty"`
	Duplicates    int                     `json:"duplicates"`
	Trades        int                     `json:"trades"`
	IngestedAt    time.Time               `json:"ingestedAt"`
}

type cacheEntry struct {
	trades []models.Trade
	report Report
}

// Ingestor parses export documents from a DocumentSource. It is safe for
// concurrent use; one instance represents one logical trade cache.
type Ingestor struct {
	source     DocumentSource
	normalizer *flex.Normalizer
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
	workers    int
	extensions []string

	mu         sync.RWMutex
	cache      map[string]*cacheEntry
	generation uint64
	lastReport *Report

	loads singleflight.Group
}

// NewIngestor creates an ingestor reading from source.
func NewIngestor(source DocumentSource, opts Options) *Ingestor {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	normalized := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		normalized = append(normalized, e)
	}

	return &Ingestor{
		source:     source,
		normalizer: flex.NewNormalizer(opts.Logger, opts.Now),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		workers:    opts.Workers,
		extensions: normalized,
		cache:      make(map[string]*cacheEntry),
	}
}

// Ingest returns the deduplicated trade set for location, ordered
// chronologically. The first successful call per location reads the source;
// later calls return the cached set until ClearCache. Only a failure to list
// the location is returned as an error.
func (in *Ingestor) Ingest(ctx context.Context, location string) ([]models.Trade, error) {
	key := cacheKey(location)

	in.mu.RLock()
	entry, ok := in.cache[key]
	in.mu.RUnlock()
	if ok {
		in.metrics.RecordIngest(true, 0, len(entry.trades), nil)
		return cloneTrades(entry.trades), nil
	}

	// The shared load outlives any single caller: one caller giving up must
	// not fail the others waiting on the same flight.
	loadCtx := context.WithoutCancel(ctx)
	flight := in.loads.DoChan(key, func() (interface{}, error) {
		// A concurrent load may have finished between the read above and here.
		in.mu.RLock()
		if e, ok := in.cache[key]; ok {
			in.mu.RUnlock()
			return e, nil
		}
		gen := in.generation
		in.mu.RUnlock()

		start := time.Now()
		e, err := in.load(loadCtx, location)
		in.metrics.RecordIngest(false, time.Since(start).Seconds(), lenTrades(e), err)
		if err != nil {
			return nil, err
		}

		in.mu.Lock()
		// A ClearCache during the load invalidates its result for caching.
		if in.generation == gen {
			in.cache[key] = e
		}
		report := e.report
		in.lastReport = &report
		in.mu.Unlock()
		return e, nil
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneTrades(res.Val.(*cacheEntry).trades), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClearCache drops every cached trade set. The next Ingest re-reads its source.
func (in *Ingestor) ClearCache() {
	in.mu.Lock()
	in.cache = make(map[string]*cacheEntry)
	in.generation++
	in.mu.Unlock()
	in.metrics.RecordCacheClear()
	in.logger.Debug("Trade cache cleared")
}

// Cached reports whether location currently has a cached trade set.
func (in *Ingestor) Cached(location string) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	_, ok := in.cache[cacheKey(location)]
	return ok
}

// LastReport returns the report of the most recent uncached ingestion, or nil.
func (in *Ingestor) LastReport() *Report {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.lastReport == nil {
		return nil
	}
	r := *in.lastReport
	return &r
}

type documentResult struct {
	name      string
	trades    []models.Trade
	rejected  []*flex.ValidationError
	fallbacks []*flex.DateParseError
	failure   *DocumentError
}

func (in *Ingestor) load(ctx context.Context, location string) (*cacheEntry, error) {
	names, err := in.source.List(ctx, location)
	if err != nil {
		in.logger.WithError(err).WithField("location", location).Error("Failed to list trade source")
		return nil, &SourceAccessError{Location: location, Err: err}
	}
	sort.Strings(names)

	report := Report{Location: location, IngestedAt: time.Now().UTC()}
	var docs []string
	for _, name := range names {
		if !in.isExportDocument(name) {
			report.Skipped = append(report.Skipped, name)
			in.metrics.RecordDocument("skipped")
			continue
		}
		docs = append(docs, name)
	}
	report.Documents = len(docs)

	results := make([]documentResult, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for i, name := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = in.processDocument(gctx, location, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge in document order so "first occurrence wins" is deterministic.
	seen := make(map[string]struct{})
	var trades []models.Trade
	for _, res := range results {
		if res.failure != nil {
			report.Failed = append(report.Failed, res.failure)
			continue
		}
		report.Rejected = append(report.Rejected, res.rejected...)
		report.DateFallbacks = append(report.DateFallbacks, res.fallbacks...)
		for _, t := range res.trades {
			if _, dup := seen[t.ID]; dup {
				report.Duplicates++
				continue
			}
			seen[t.ID] = struct{}{}
			trades = append(trades, t)
		}
	}
	models.SortTrades(trades)
	report.Trades = len(trades)

	in.metrics.RecordDuplicates(report.Duplicates)
	in.metrics.RecordDateFallbacks(len(report.DateFallbacks))
	for _, r := range report.Rejected {
		in.metrics.RecordRejected(string(r.Kind))
	}

	in.logger.WithFields(logrus.Fields{
		"location":   location,
		"documents":  report.Documents,
		"failed":     len(report.Failed),
		"rejected":   len(report.Rejected),
		"duplicates": report.Duplicates,
		"trades":     report.Trades,
	}).Info("Ingested trade source")

	return &cacheEntry{trades: trades, report: report}, nil
}

func (in *Ingestor) processDocument(ctx context.Context, location, name string) documentResult {
	res := documentResult{name: name}
	log := in.logger.WithField("document", name)

	rc, err := in.source.Open(ctx, location, name)
	if err != nil {
		res.failure = newDocumentError(name, OpRead, err)
		log.WithError(err).Error("Failed to read export document")
		in.metrics.RecordDocument("read_error")
		return res
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close export document")
		}
	}()

	records, err := flex.ParseDocument(rc)
	if err != nil {
		res.failure = newDocumentError(name, OpParse, err)
		log.WithError(err).Error("Failed to parse export document")
		in.metrics.RecordDocument("parse_error")
		return res
	}

	res.trades, res.rejected, res.fallbacks = in.normalizer.NormalizeAll(name, records)
	in.metrics.RecordDocument("parsed")
	return res
}

func (in *Ingestor) isExportDocument(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range in.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func cacheKey(location string) string {
	if location == "" {
		return location
	}
	return filepath.Clean(location)
}

func lenTrades(e *cacheEntry) int {
	if e == nil {
		return 0
	}
	return len(e.trades)
}

// cloneTrades copies the cached slice so callers cannot mutate the cache.
func cloneTrades(trades []models.Trade) []models.Trade {
	out := make([]models.Trade, len(trades))
	copy(out, trades)
	return out
}
