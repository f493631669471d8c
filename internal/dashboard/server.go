// Package dashboard serves the tracker's engine operations as a JSON API.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheel_tracker/internal/analytics"
	"github.com/eddiefleurent/wheel_tracker/internal/cycles"
	"github.com/eddiefleurent/wheel_tracker/internal/flex"
	"github.com/eddiefleurent/wheel_tracker/internal/ingest"
	"github.com/eddiefleurent/wheel_tracker/internal/integrity"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/observability"
	"github.com/eddiefleurent/wheel_tracker/internal/positions"
	"github.com/eddiefleurent/wheel_tracker/internal/risk"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
	"github.com/eddiefleurent/wheel_tracker/internal/tracker"
)

// Engine is the subset of the tracker service the dashboard serves.
type Engine interface {
	Ingest(ctx context.Context) ([]models.Trade, error)
	ClearCache()
	LastIngestReport() *ingest.Report
	Cycles(ctx context.Context) (*cycles.Result, error)
	CyclesForSymbol(ctx context.Context, symbol string) ([]models.WheelCycle, error)
	Positions(ctx context.Context) ([]*models.Position, error)
	Valuations(ctx context.Context) ([]positions.Valuation, error)
	CalculateSafeStrike(ctx context.Context, symbol string, price *float64) (*risk.SafeStrike, error)
	IncomeAnalytics(ctx context.Context, start, end *time.Time) (*analytics.Report, error)
	ValidateCycleIntegrity(ctx context.Context) (*integrity.Result, error)
	Report(ctx context.Context) (*tracker.Report, error)
}

var _ Engine = (*tracker.Service)(nil)

// Server is the dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	engine    Engine
	storage   storage.Interface
	gatherer  prometheus.Gatherer
	logger    logrus.FieldLogger
	port      int
	authToken string
}

// Config holds the dashboard listener settings.
type Config struct {
	Port      int
	AuthToken string
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
}

// NewServer creates a dashboard over engine. store may be nil, which
// disables POST /api/snapshot.
func NewServer(cfg Config, engine Engine, store storage.Interface, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		storage:   store,
		gatherer:  cfg.Gatherer,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("/metrics", observability.Handler(s.gatherer))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/trades", s.handleGetTrades)
		r.Get("/ingest", s.handleGetIngestReport)
		r.Get("/cycles", s.handleGetCycles)
		r.Get("/cycles/{symbol}", s.handleGetSymbolCycles)
		r.Get("/positions", s.handleGetPositions)
		r.Get("/valuations", s.handleGetValuations)
		r.Get("/safe-strike/{symbol}", s.handleGetSafeStrike)
		r.Get("/analytics", s.handleGetAnalytics)
		r.Get("/integrity", s.handleGetIntegrity)
		r.Get("/report", s.handleGetReport)
		r.Post("/cache/clear", s.handleClearCache)
		r.Post("/snapshot", s.handleSnapshot)
	})
}

// requestLogger logs one line per request through logrus.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Handled request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// engineError maps an engine failure to a response. Only source access
// failures reach here; record and document problems never fail a call.
func (s *Server) engineError(w http.ResponseWriter, err error) {
	var sae *ingest.SourceAccessError
	switch {
	case errors.As(err, &sae):
		s.logger.WithError(err).Error("Trade source unavailable")
		s.writeError(w, http.StatusServiceUnavailable, "trade source unavailable")
	case errors.Is(err, tracker.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "service closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "request canceled")
	default:
		s.logger.WithError(err).Error("Engine operation failed")
		s.writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.engine.Ingest(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		key := cycles.NormalizeSymbol(symbol)
		filtered := make([]models.Trade, 0)
		for _, t := range trades {
			if cycles.NormalizeSymbol(t.Underlying()) == key {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetIngestReport(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Ingest(r.Context()); err != nil {
		s.engineError(w, err)
		return
	}
	report := s.engine.LastIngestReport()
	if report == nil {
		s.writeError(w, http.StatusNotFound, "no ingestion report")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Cycles(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetSymbolCycles(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	cs, err := s.engine.CyclesForSymbol(r.Context(), symbol)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	ps, err := s.engine.Positions(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleGetValuations(w http.ResponseWriter, r *http.Request) {
	vals, err := s.engine.Valuations(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vals)
}

func (s *Server) handleGetSafeStrike(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var price *float64
	if raw := r.URL.Query().Get("price"); raw != "" {
		px, err := strconv.ParseFloat(raw, 64)
		if err != nil || px <= 0 {
			s.writeError(w, http.StatusBadRequest, "price must be a positive number")
			return
		}
		price = &px
	}

	ss, err := s.engine.CalculateSafeStrike(r.Context(), symbol, price)
	if err != nil {
		s.engineError(w, err)
		return
	}
	if ss == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no position for %s", cycles.NormalizeSymbol(symbol)))
		return
	}
	s.writeJSON(w, http.StatusOK, ss)
}

func (s *Server) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	start, err := dateParam(r, "start")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := dateParam(r, "end")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		s.writeError(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	report, err := s.engine.IncomeAnalytics(r.Context(), start, end)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func dateParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := flex.ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s date %q", name, raw)
	}
	return &t, nil
}

func (s *Server) handleGetIntegrity(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ValidateCycleIntegrity(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Report(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearCache()
	s.logger.Info("Trade cache cleared via dashboard")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusNotFound, "snapshot output is not configured")
		return
	}
	report, err := s.engine.Report(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	if err := s.storage.Save(report); err != nil {
		s.logger.WithError(err).Error("Failed to write report snapshot")
		s.writeError(w, http.StatusInternalServerError, "failed to write snapshot")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "saved",
		"path":   s.storage.Path(),
	})
}
