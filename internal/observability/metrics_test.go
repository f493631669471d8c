package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIngest(false, 0.1, 3, nil)
		m.RecordDocument("parsed")
		m.RecordRejected("missing_field")
		m.RecordDateFallbacks(2)
		m.RecordDuplicates(1)
		m.RecordCacheClear()
		m.RecordQuote(0.01, errors.New("boom"))
		m.RecordValuationFallback("error")
		m.RecordCycles(1, 2)
	})
}

func TestRecordIngest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordIngest(false, 0.2, 7, nil)
	m.RecordIngest(true, 0, 7, nil)
	m.RecordIngest(true, 0, 7, nil)
	m.RecordIngest(false, 0, 0, errors.New("listing failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestRuns.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestRuns.WithLabelValues("cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestRuns.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheEvents.WithLabelValues("hit")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.CachedTrades))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.RecordRejected("invalid_number")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `test_ingest_records_rejected_total{kind="invalid_number"} 1`))
}
