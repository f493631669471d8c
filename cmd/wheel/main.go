package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheel_tracker/internal/config"
	"github.com/eddiefleurent/wheel_tracker/internal/dashboard"
	"github.com/eddiefleurent/wheel_tracker/internal/mock"
	"github.com/eddiefleurent/wheel_tracker/internal/observability"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
	"github.com/eddiefleurent/wheel_tracker/internal/tracker"
)

const (
	modeReport = "report"
	modeServe  = "serve"
)

func main() {
	var (
		configPath string
		outPath    string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&outPath, "out", "", "Write the report snapshot to this path (overrides output.snapshot_path)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [report|serve] [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Flags may follow the mode: wheel report -out snapshot.json
	var mode string
	if flag.NArg() > 0 {
		mode = flag.Arg(0)
		if err := flag.CommandLine.Parse(flag.Args()[1:]); err != nil {
			os.Exit(2)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	if mode == "" {
		mode = modeReport
		if cfg.Dashboard.Enabled {
			mode = modeServe
		}
	}
	if outPath != "" {
		cfg.Output.SnapshotPath = outPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping...")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("", reg)

	svc, err := newService(cfg, logger, metrics)
	if err != nil {
		logger.Fatalf("Failed to create tracker: %v", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close tracker")
		}
	}()

	switch mode {
	case modeReport:
		err = runReport(ctx, cfg, svc, os.Stdout, logger)
	case modeServe:
		err = runServe(ctx, cfg, svc, reg, logger)
	default:
		err = fmt.Errorf("unknown mode %q (want %s or %s)", mode, modeReport, modeServe)
	}
	if err != nil {
		logger.WithError(err).Error("Wheel tracker failed")
		_ = svc.Close()
		cancel()
		os.Exit(1)
	}
}

// newLogger builds a logrus logger from the environment settings.
func newLogger(cfg *config.Config, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	logger.SetLevel(level)

	if cfg.Environment.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// newQuoteSource returns nil when quotes are disabled.
func newQuoteSource(cfg *config.Config, logger logrus.FieldLogger) quotes.Source {
	switch cfg.Quotes.Provider {
	case config.ProviderTradier:
		client := quotes.NewTradierSource(cfg.Quotes.APIKey, cfg.Quotes.Sandbox, cfg.Quotes.APIEndpoint, logger).
			WithTimeout(cfg.QuoteTimeout())
		retrying := quotes.NewRetryingSource(client, logger, quotes.RetryConfig{
			MaxRetries:     cfg.Quotes.MaxRetries,
			InitialBackoff: cfg.QuoteInitialBackoff(),
			MaxBackoff:     cfg.QuoteMaxBackoff(),
		})
		cb := cfg.Quotes.CircuitBreaker
		return quotes.NewCircuitBreakerSource(retrying, quotes.CircuitBreakerSettings{
			MaxRequests:  cb.MaxRequests,
			Interval:     cfg.BreakerInterval(),
			Timeout:      cfg.BreakerTimeout(),
			MinRequests:  cb.MinRequests,
			FailureRatio: cb.FailureRatio,
		}, logger)
	case config.ProviderMock:
		logger.Warn("Using mock quotes; valuations are simulated")
		return mock.NewDataProvider(cfg.Quotes.MockPrices)
	default:
		return nil
	}
}

func newService(cfg *config.Config, logger logrus.FieldLogger, metrics *observability.Metrics) (*tracker.Service, error) {
	return tracker.New(tracker.Options{
		Location:     cfg.Source.Path,
		Workers:      cfg.Source.Workers,
		Extensions:   cfg.Source.Extensions,
		Quotes:       newQuoteSource(cfg, logger),
		QuoteMaxAge:  cfg.QuoteMaxAge(),
		PollInterval: cfg.QuotePollInterval(),
		Logger:       logger,
		Metrics:      metrics,
	})
}

// runReport builds one report, prints it as JSON and optionally persists it.
func runReport(ctx context.Context, cfg *config.Config, svc *tracker.Service, out io.Writer, logger logrus.FieldLogger) error {
	report, err := svc.Report(ctx)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	if cfg.Output.SnapshotPath != "" {
		store, err := storage.NewStorage(cfg.Output.SnapshotPath)
		if err != nil {
			return fmt.Errorf("opening snapshot storage: %w", err)
		}
		if err := store.Save(report); err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
		logger.WithField("path", store.Path()).Info("Snapshot saved")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if report.Integrity != nil && !report.Integrity.IsValid {
		logger.WithField("errors", report.Integrity.Summary.Errors).Warn("Cycle integrity check found errors")
	}
	return nil
}

// runServe serves the dashboard until ctx is canceled.
func runServe(ctx context.Context, cfg *config.Config, svc *tracker.Service, gatherer prometheus.Gatherer, logger logrus.FieldLogger) error {
	var store storage.Interface
	if cfg.Output.SnapshotPath != "" {
		s, err := storage.NewStorage(cfg.Output.SnapshotPath)
		if err != nil {
			return fmt.Errorf("opening snapshot storage: %w", err)
		}
		store = s
	}

	// Warm the cache so the first request does not pay for ingestion.
	if _, err := svc.Ingest(ctx); err != nil {
		logger.WithError(err).Warn("Initial ingest failed; will retry on request")
	}

	if sub, err := svc.SubscribeQuotes(ctx); err == nil {
		go logQuotes(sub, logger)
	} else {
		logger.WithError(err).Debug("Quote subscription not started")
	}

	srv := dashboard.NewServer(dashboard.Config{
		Port:      cfg.Dashboard.Port,
		AuthToken: cfg.Dashboard.AuthToken,
		Gatherer:  gatherer,
	}, svc, store, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dashboard server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down dashboard: %w", err)
	}
	logger.Info("Dashboard stopped")
	return nil
}

func logQuotes(sub *quotes.Subscription, logger logrus.FieldLogger) {
	for u := range sub.Updates() {
		if u.Err != nil {
			logger.WithError(u.Err).WithField("symbol", u.Symbol).Debug("Quote poll failed")
			continue
		}
		logger.WithFields(logrus.Fields{
			"symbol": u.Symbol,
			"price":  u.Quote.Price,
		}).Debug("Quote update")
	}
}
