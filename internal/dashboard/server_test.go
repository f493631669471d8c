package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/wheel_tracker/internal/analytics"
	"github.com/eddiefleurent/wheel_tracker/internal/integrity"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/observability"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/risk"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
	"github.com/eddiefleurent/wheel_tracker/internal/tracker"
)

var asOf = time.Date(2025, 1, 20, 15, 0, 0, 0, time.UTC)

const exportXML = `<FlexQueryResponse><FlexStatements><FlexStatement><Trades>
<Trade tradeID="1001" symbol="AAPL  250221P00190000" assetCategory="OPT" quantity="-1" price="5.50" buySell="SELL" tradeDate="20250115" />
<Trade tradeID="1002" symbol="KO" assetCategory="STK" quantity="100" price="60" buySell="BUY" tradeDate="20250110" />
</Trades></FlexStatement></FlexStatements></FlexQueryResponse>`

type fixture struct {
	server *Server
	store  *storage.MockStorage
	dir    string
}

func newFixture(t *testing.T, authToken string) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trades.xml"), []byte(exportXML), 0o600))

	logger, _ := logtest.NewNullLogger()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("", reg)
	source := quotes.SourceFunc(func(_ context.Context, symbol string) (*quotes.Quote, error) {
		return &quotes.Quote{Symbol: symbol, Price: 62, Timestamp: asOf}, nil
	})
	svc, err := tracker.New(tracker.Options{
		Location: dir,
		Quotes:   source,
		Logger:   logger,
		Metrics:  metrics,
		Now:      func() time.Time { return asOf },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	store := storage.NewMockStorage()
	srv := NewServer(Config{Port: 0, AuthToken: authToken, Gatherer: reg}, svc, store, logger)
	return &fixture{server: srv, store: store, dir: dir}
}

func (f *fixture) do(t *testing.T, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "secret")
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/trades", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/trades", map[string]string{"X-Auth-Token": "secret"}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/trades?token=secret", nil).Code)
}

func TestTrades(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/trades", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	trades := decode[[]models.Trade](t, rec)
	require.Len(t, trades, 2)
	assert.Equal(t, "1002", trades[0].ID, "trades are chronological")

	filtered := decode[[]models.Trade](t, f.do(t, http.MethodGet, "/api/trades?symbol=aapl", nil))
	require.Len(t, filtered, 1)
	assert.Equal(t, "1001", filtered[0].ID)
}

func TestCycles(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/cycles/aapl", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cs := decode[[]models.WheelCycle](t, rec)
	require.Len(t, cs, 1)
	assert.InDelta(t, 550.0, cs[0].TotalPremiumCollected, 1e-9)

	rec = f.do(t, http.MethodGet, "/api/cycles/ZZZZ", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	all := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/cycles", nil))
	assert.EqualValues(t, 1, all["activeCycles"])
}

func TestSafeStrike(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/safe-strike/AAPL?price=195.50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ss := decode[risk.SafeStrike](t, rec)
	assert.InDelta(t, 190.0, ss.SafeStrike, 1e-9)
	assert.InDelta(t, 550.0, ss.RiskAmount, 1e-9)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/safe-strike/ZZZZ", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/safe-strike/AAPL?price=abc", nil).Code)
}

func TestPositionsAndValuations(t *testing.T) {
	f := newFixture(t, "")

	ps := decode[[]models.Position](t, f.do(t, http.MethodGet, "/api/positions", nil))
	require.Len(t, ps, 2)
	assert.Equal(t, "AAPL", ps[0].Symbol)

	rec := f.do(t, http.MethodGet, "/api/valuations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	vals := decode[[]map[string]any](t, rec)
	require.Len(t, vals, 1)
	assert.Equal(t, "KO", vals[0]["symbol"])
	assert.Equal(t, "quote", vals[0]["priceSource"])
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/analytics?start=2025-01-01&end=20250131", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[analytics.Report](t, rec)
	assert.InDelta(t, 550.0, report.TotalPremium, 1e-9)
	assert.Equal(t, 0.0, report.WinRate)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/analytics?start=soon", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/analytics?start=2025-02-01&end=2025-01-01", nil).Code)
}

func TestIntegrity(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/api/integrity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[integrity.Result](t, rec)
	assert.Equal(t, 2, res.Summary.Trades)
	assert.True(t, res.IsValid)
	assert.Equal(t, 1, res.Summary.Active)
	assert.Empty(t, res.Issues)
}

func TestClearCacheRereadsSource(t *testing.T) {
	f := newFixture(t, "")
	require.Len(t, decode[[]models.Trade](t, f.do(t, http.MethodGet, "/api/trades", nil)), 2)

	extra := `<FlexQueryResponse><Trades><Trade tradeID="1003" symbol="KO" assetCategory="STK" quantity="-50" price="63" buySell="SELL" tradeDate="20250117" /></Trades></FlexQueryResponse>`
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "more.xml"), []byte(extra), 0o600))
	require.Len(t, decode[[]models.Trade](t, f.do(t, http.MethodGet, "/api/trades", nil)), 2)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/cache/clear", nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/cache/clear", nil).Code)
	assert.Len(t, decode[[]models.Trade](t, f.do(t, http.MethodGet, "/api/trades", nil)), 3)
}

func TestSourceUnavailable(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, os.RemoveAll(f.dir))
	rec := f.do(t, http.MethodGet, "/api/cycles", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.store.SaveCallCount())

	var report tracker.Report
	require.NoError(t, json.Unmarshal(f.store.Latest(), &report))
	assert.Equal(t, 2, report.TradeCount)
	assert.Contains(t, report.SafeStrikes, "AAPL")
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, "")
	f.do(t, http.MethodGet, "/api/trades", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "wheel_tracker_"), "metrics use the default namespace")
}
