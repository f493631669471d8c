package mock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDataProvider_RandomWalkStaysBounded(t *testing.T) {
	provider := NewDataProvider(map[string]float64{"aapl": 200})
	ctx := context.Background()

	prev := 200.0
	for i := 0; i < 50; i++ {
		q, err := provider.GetQuote(ctx, "AAPL")
		if err != nil {
			t.Fatalf("GetQuote failed: %v", err)
		}
		if q.Symbol != "AAPL" {
			t.Errorf("Expected symbol AAPL, got %s", q.Symbol)
		}
		move := (q.Price - prev) / prev
		if move > 0.0101 || move < -0.0101 {
			t.Fatalf("Move of %.4f exceeds 1%% step (prev %.2f, got %.2f)", move, prev, q.Price)
		}
		prev = q.Price
	}

	last, ok := provider.Price("aapl")
	if !ok || last != prev {
		t.Errorf("Price() = %v, %v; want %v, true", last, ok, prev)
	}
}

func TestDataProvider_Deterministic(t *testing.T) {
	provider := NewDataProvider(nil)
	fixed := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	provider.now = func() time.Time { return fixed }
	provider.random = func() float64 { return 0.5 }

	q, err := provider.GetQuote(context.Background(), "ko")
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if q.Price != 105 {
		t.Errorf("Expected seeded price 105, got %v", q.Price)
	}
	if !q.Timestamp.Equal(fixed) {
		t.Errorf("Expected timestamp %v, got %v", fixed, q.Timestamp)
	}
}

func TestDataProvider_Errors(t *testing.T) {
	provider := NewDataProvider(nil)

	if _, err := provider.GetQuote(context.Background(), "  "); err == nil {
		t.Error("Expected error for empty symbol, got nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := provider.GetQuote(ctx, "SPY"); err == nil {
		t.Error("Expected error for canceled context, got nil")
	}
}

func TestDataProvider_ConcurrentUse(t *testing.T) {
	provider := NewDataProvider(map[string]float64{"SPY": 450})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := provider.GetQuote(context.Background(), "SPY"); err != nil {
				t.Errorf("GetQuote failed: %v", err)
			}
		}()
	}
	wg.Wait()
}
