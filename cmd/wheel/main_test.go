package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/wheel_tracker/internal/config"
	"github.com/eddiefleurent/wheel_tracker/internal/mock"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/tracker"
)

const export = `<FlexQueryResponse><FlexStatements><FlexStatement><Trades>
<Trade tradeID="1" symbol="AAPL  250221P00190000" assetCategory="OPT" quantity="-1" price="5.50" buySell="SELL" tradeDate="20250115" />
</Trades></FlexStatement></FlexStatements></FlexQueryResponse>`

func testConfig(t *testing.T, provider string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trades.xml"), []byte(export), 0o600))
	cfg := &config.Config{
		Source: config.SourceConfig{Path: dir},
		Quotes: config.QuotesConfig{Provider: provider, APIKey: "key"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t, config.ProviderNone)
	cfg.Environment.LogLevel = "debug"
	cfg.Environment.LogFormat = "json"

	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.Info("hello")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
}

func TestNewQuoteSource(t *testing.T) {
	logger, _ := logtest.NewNullLogger()

	assert.Nil(t, newQuoteSource(testConfig(t, config.ProviderNone), logger))
	assert.IsType(t, &mock.DataProvider{}, newQuoteSource(testConfig(t, config.ProviderMock), logger))
	assert.IsType(t, &quotes.CircuitBreakerSource{}, newQuoteSource(testConfig(t, config.ProviderTradier), logger))
}

func TestRunReport(t *testing.T) {
	cfg := testConfig(t, config.ProviderNone)
	cfg.Output.SnapshotPath = filepath.Join(t.TempDir(), "out", "snapshot.json")
	logger, _ := logtest.NewNullLogger()

	svc, err := newService(cfg, logger, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	var out bytes.Buffer
	require.NoError(t, runReport(context.Background(), cfg, svc, &out, logger))

	var printed tracker.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, 1, printed.TradeCount)
	require.Contains(t, printed.SafeStrikes, "AAPL")
	assert.Equal(t, "put_strike", printed.SafeStrikes["AAPL"].PriceSource)

	saved, err := os.ReadFile(cfg.Output.SnapshotPath)
	require.NoError(t, err)
	var stored tracker.Report
	require.NoError(t, json.Unmarshal(saved, &stored))
	assert.Equal(t, printed.TradeCount, stored.TradeCount)
}

func TestRunReport_MissingSource(t *testing.T) {
	cfg := testConfig(t, config.ProviderNone)
	cfg.Source.Path = filepath.Join(t.TempDir(), "missing")
	logger, _ := logtest.NewNullLogger()

	svc, err := newService(cfg, logger, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	err = runReport(context.Background(), cfg, svc, &bytes.Buffer{}, logger)
	assert.ErrorContains(t, err, "building report")
}
