package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/wheel_tracker/internal/observability"
)

// memSource is an in-memory DocumentSource that counts document opens.
type memSource struct {
	mu      sync.Mutex
	docs    map[string]string
	failing map[string]error
	listErr error
	opens   atomic.Int32
	lists   atomic.Int32
	delay   time.Duration
	// gate, when set, blocks List until closed.
	gate chan struct{}
}

func newMemSource(docs map[string]string) *memSource {
	return &memSource{docs: docs, failing: map[string]error{}}
}

func (m *memSource) List(_ context.Context, _ string) ([]string, error) {
	m.lists.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.docs))
	for name := range m.docs {
		names = append(names, name)
	}
	return names, nil
}

func (m *memSource) Open(_ context.Context, _ string, name string) (io.ReadCloser, error) {
	m.opens.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failing[name]; ok {
		return nil, err
	}
	body, ok := m.docs[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *memSource) set(name, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = body
}

func tradeXML(id, symbol, category, qty, price, side, date string) string {
	return fmt.Sprintf(`<Trade tradeID=%q symbol=%q assetCategory=%q quantity=%q price=%q buySell=%q tradeDate=%q />`,
		id, symbol, category, qty, price, side, date)
}

func flexDoc(trades ...string) string {
	return `<FlexQueryResponse><FlexStatements><FlexStatement><Trades>` +
		strings.Join(trades, "") +
		`</Trades></FlexStatement></FlexStatements></FlexQueryResponse>`
}

func newTestIngestor(src DocumentSource) (*Ingestor, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	return NewIngestor(src, Options{Workers: 2, Logger: logger}), hook
}

func TestIngest_DeduplicatesAcrossDocuments(t *testing.T) {
	src := newMemSource(map[string]string{
		"a.xml": flexDoc(
			tradeXML("1", "AAPL  250221P00190000", "OPT", "1", "5.50", "SELL", "20250115"),
			tradeXML("2", "AAPL", "STK", "100", "190", "BUY", "20250221"),
		),
		"b.xml": flexDoc(
			tradeXML("2", "AAPL", "STK", "100", "999", "BUY", "20250221"),
			tradeXML("3", "MSFT", "STK", "10", "400", "BUY", "20250110"),
		),
	})
	in, _ := newTestIngestor(src)

	trades, err := in.Ingest(context.Background(), "/exports")
	require.NoError(t, err)
	require.Len(t, trades, 3)

	// chronological order
	assert.Equal(t, "3", trades[0].ID)
	assert.Equal(t, "1", trades[1].ID)
	assert.Equal(t, "2", trades[2].ID)
	// first occurrence (a.xml) wins
	assert.InDelta(t, 190.0, trades[2].Price, 1e-9)
	assert.Equal(t, "a.xml", trades[2].Document)

	report := in.LastReport()
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 3, report.Trades)
}

func TestIngest_DuplicateWithinDocument(t *testing.T) {
	src := newMemSource(map[string]string{
		"a.xml": flexDoc(
			tradeXML("7", "KO", "STK", "100", "60", "BUY", "20250102"),
			tradeXML("7", "KO", "STK", "100", "61", "BUY", "20250102"),
		),
	})
	in, _ := newTestIngestor(src)
	trades, err := in.Ingest(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 60.0, trades[0].Price, 1e-9)
}

func TestIngest_CachedUntilCleared(t *testing.T) {
	src := newMemSource(map[string]string{
		"a.xml": flexDoc(tradeXML("1", "AAPL", "STK", "100", "190", "BUY", "20250221")),
	})
	in, _ := newTestIngestor(src)
	ctx := context.Background()

	first, err := in.Ingest(ctx, "loc")
	require.NoError(t, err)
	assert.True(t, in.Cached("loc"))

	src.set("b.xml", flexDoc(tradeXML("2", "AAPL", "STK", "-100", "200", "SELL", "20250301")))

	second, err := in.Ingest(ctx, "loc")
	require.NoError(t, err)
	assert.Equal(t, first, second, "cached call must return the identical set")
	assert.Equal(t, int32(1), src.lists.Load(), "cached call must not re-list")
	assert.Equal(t, int32(1), src.opens.Load(), "cached call must not re-read")

	in.ClearCache()
	assert.False(t, in.Cached("loc"))

	third, err := in.Ingest(ctx, "loc")
	require.NoError(t, err)
	assert.Len(t, third, 2)
	assert.Equal(t, int32(2), src.lists.Load())
}

func TestIngest_ReturnedSliceDoesNotAliasCache(t *testing.T) {
	src := newMemSource(map[string]string{
		"a.xml": flexDoc(tradeXML("1", "AAPL", "STK", "100", "190", "BUY", "20250221")),
	})
	in, _ := newTestIngestor(src)
	trades, err := in.Ingest(context.Background(), "loc")
	require.NoError(t, err)
	trades[0].Price = -1

	again, err := in.Ingest(context.Background(), "loc")
	require.NoError(t, err)
	assert.InDelta(t, 190.0, again[0].Price, 1e-9)
}

func TestIngest_SourceAccessErrorIsFatal(t *testing.T) {
	src := newMemSource(nil)
	src.listErr = os.ErrNotExist
	in, _ := newTestIngestor(src)

	trades, err := in.Ingest(context.Background(), "/missing")
	require.Error(t, err)
	assert.Nil(t, trades)

	var sae *SourceAccessError
	require.ErrorAs(t, err, &sae)
	assert.Equal(t, "/missing", sae.Location)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, in.Cached("/missing"), "failures are never cached")
}

func TestIngest_DocumentFailuresAreIsolated(t *testing.T) {
	src := newMemSource(map[string]string{
		"good.xml":    flexDoc(tradeXML("1", "AAPL", "STK", "100", "190", "BUY", "20250221")),
		"broken.xml":  `<FlexQueryResponse><Trades><Trade tradeID="9"></Trades>`,
		"locked.xml":  "",
		"notes.txt":   "not an export",
		"summary.csv": "tradeID,symbol",
	})
	src.failing["locked.xml"] = errors.New("permission denied")
	in, hook := newTestIngestor(src)

	trades, err := in.Ingest(context.Background(), "loc")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "1", trades[0].ID)

	report := in.LastReport()
	require.NotNil(t, report)
	assert.Equal(t, 3, report.Documents)
	assert.ElementsMatch(t, []string{"notes.txt", "summary.csv"}, report.Skipped)
	require.Len(t, report.Failed, 2)
	ops := map[string]DocumentOp{}
	for _, f := range report.Failed {
		ops[f.Document] = f.Op
	}
	assert.Equal(t, OpParse, ops["broken.xml"])
	assert.Equal(t, OpRead, ops["locked.xml"])

	// non-export documents are skipped without reading
	assert.Equal(t, int32(3), src.opens.Load())

	errorsLogged := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Failed to parse export document" || e.Message == "Failed to read export document" {
			errorsLogged++
		}
	}
	assert.Equal(t, 2, errorsLogged)
}

func TestIngest_ValidationIsolation(t *testing.T) {
	src := newMemSource(map[string]string{
		"a.xml": flexDoc(
			tradeXML("1", "AAPL", "STK", "100", "190", "BUY", "20250221"),
			`<Trade symbol="AAPL" assetCategory="STK" quantity="1" price="1" buySell="BUY" tradeDate="20250221" />`,
		),
	})
	in, _ := newTestIngestor(src)
	trades, err := in.Ingest(context.Background(), "loc")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	report := in.LastReport()
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "tradeID", report.Rejected[0].Field)
}

func TestIngest_ConcurrentCallersShareOneLoad(t *testing.T) {
	src := newMemSource(map[string]string{
		"a.xml": flexDoc(tradeXML("1", "AAPL", "STK", "100", "190", "BUY", "20250221")),
		"b.xml": flexDoc(tradeXML("2", "MSFT", "STK", "10", "400", "BUY", "20250222")),
	})
	src.delay = 20 * time.Millisecond
	in, _ := newTestIngestor(src)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trades, err := in.Ingest(context.Background(), "loc")
			results[i] = len(trades)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 2, results[i])
	}
	assert.Equal(t, int32(1), src.lists.Load(), "concurrent cold calls must load once")
	assert.Equal(t, int32(2), src.opens.Load())
}

func TestIngest_CanceledCallerDoesNotFailSharedLoad(t *testing.T) {
	src := newMemSource(map[string]string{
		"a.xml": flexDoc(tradeXML("1", "AAPL", "STK", "100", "190", "BUY", "20250221")),
		"b.xml": flexDoc(tradeXML("2", "MSFT", "STK", "10", "400", "BUY", "20250222")),
	})
	src.gate = make(chan struct{})
	in, _ := newTestIngestor(src)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := in.Ingest(ctx, "loc")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.lists.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	// The load is still blocked in List; this caller joins it.
	second := make(chan int, 1)
	go func() {
		trades, err := in.Ingest(context.Background(), "loc")
		assert.NoError(t, err)
		second <- len(trades)
	}()
	time.Sleep(10 * time.Millisecond)
	close(src.gate)

	select {
	case n := <-second:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), src.lists.Load(), "the shared load ran once")
	assert.True(t, in.Cached("loc"))
}

func TestIngest_RecordsMetrics(t *testing.T) {
	src := newMemSource(map[string]string{
		"a.xml": flexDoc(
			tradeXML("1", "AAPL", "STK", "100", "190", "BUY", "20250221"),
			tradeXML("1", "AAPL", "STK", "100", "190", "BUY", "20250221"),
			tradeXML("2", "AAPL", "STK", "100", "NaN", "BUY", "20250221"),
		),
	})
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics("test", reg)
	logger, _ := logtest.NewNullLogger()
	in := NewIngestor(src, Options{Logger: logger, Metrics: m})

	_, err := in.Ingest(context.Background(), "loc")
	require.NoError(t, err)
	_, err = in.Ingest(context.Background(), "loc")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsRejected.WithLabelValues("invalid_number")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestRuns.WithLabelValues("cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("parsed")))
}

func TestFSSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.xml"), []byte(flexDoc(
		tradeXML("2", "AAPL", "STK", "100", "190", "BUY", "20250221"),
	)), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), []byte(flexDoc(
		tradeXML("1", "AAPL  250221P00190000", "OPT", "1", "5.50", "SELL", "20250115"),
	)), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# exports"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.xml"), 0o750))

	src := NewFSSource()
	names, err := src.List(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.xml", "b.xml", "readme.md"}, names)

	_, err = src.Open(context.Background(), dir, "../etc/passwd")
	assert.Error(t, err)

	logger, _ := logtest.NewNullLogger()
	in := NewIngestor(src, Options{Logger: logger})
	trades, err := in.Ingest(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "1", trades[0].ID)

	_, err = in.Ingest(context.Background(), filepath.Join(dir, "missing"))
	var sae *SourceAccessError
	assert.ErrorAs(t, err, &sae)
}
