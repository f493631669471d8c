// Package mock provides a simulated quote source for paper mode and tests.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/util"
)

// DefaultStartPrice seeds symbols without a configured starting price.
const DefaultStartPrice = 100.0

// DataProvider is a quotes.Source whose prices follow a bounded random walk
// per symbol. It is safe for concurrent use.
type DataProvider struct {
	mu     sync.Mutex
	prices map[string]float64
	step   float64 // max fractional move per quote
	floor  float64
	now    func() time.Time
	random func() float64
}

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// NewDataProvider creates a provider seeded with start prices. Symbols not in
// start begin near DefaultStartPrice.
func NewDataProvider(start map[string]float64) *DataProvider {
	prices := make(map[string]float64, len(start))
	for sym, px := range start {
		if px > 0 {
			prices[strings.ToUpper(strings.TrimSpace(sym))] = px
		}
	}
	return &DataProvider{
		prices: prices,
		step:   0.01,
		floor:  util.Cent,
		now:    time.Now,
		random: secureFloat64,
	}
}

// GetQuote moves the symbol's price by up to 1% and returns it.
func (m *DataProvider) GetQuote(ctx context.Context, symbol string) (*quotes.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return nil, &quotes.QuoteLookupError{Symbol: symbol, Err: fmt.Errorf("empty symbol")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	px, ok := m.prices[sym]
	if !ok {
		px = DefaultStartPrice + m.random()*10
	}
	// Simulate small price movements
	px *= 1 + (m.random()-0.5)*2*m.step
	px = math.Max(m.floor, util.RoundCents(px))
	m.prices[sym] = px

	return &quotes.Quote{Symbol: sym, Price: px, Timestamp: m.now()}, nil
}

// Price returns the last simulated price without moving it.
func (m *DataProvider) Price(symbol string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	px, ok := m.prices[strings.ToUpper(strings.TrimSpace(symbol))]
	return px, ok
}

var _ quotes.Source = (*DataProvider)(nil)
