package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		premium  float64
		wantSafe float64
		wantRisk float64
		wantBuff float64
	}{
		{"one lot of premium", 195.50, 550, 190.00, 550, 5.50},
		{"no premium", 100, 0, 100, 0, 0},
		{"premium above price", 3, 500, -2, 500, 5},
		{"fractional premium", 42.17, 123.45, 40.94, 123.45, 1.23},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate("AAPL", tt.price, tt.premium)
			assert.InDelta(t, tt.wantSafe, got.SafeStrike, 1e-9)
			assert.Equal(t, got.SafeStrike, got.BreakEvenPrice)
			assert.InDelta(t, tt.wantRisk, got.RiskAmount, 1e-9)
			assert.InDelta(t, tt.wantBuff, got.PremiumBuffer, 1e-9)
			assert.GreaterOrEqual(t, got.RiskAmount, 0.0)
		})
	}
}

func TestCalculate_ListedStrikes(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		premium  float64
		wantPut  float64
		wantCall float64
	}{
		{"safe strike on a listed strike", 195.50, 550, 190, 190},
		{"between strikes", 195.50, 605, 189, 189.5},
		{"just above a strike", 61.30, 28, 61, 61.5},
		{"negative safe strike", 3, 500, -2, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate("AAPL", tt.price, tt.premium)
			assert.InDelta(t, tt.wantPut, got.PutStrike, 1e-9)
			assert.InDelta(t, tt.wantCall, got.CallStrike, 1e-9)
			assert.LessOrEqual(t, got.PutStrike, got.SafeStrike)
			assert.GreaterOrEqual(t, got.CallStrike, got.BreakEvenPrice)
		})
	}
}

func TestCalculate_Deterministic(t *testing.T) {
	assert.Equal(t, Calculate("KO", 61.3, 210), Calculate("KO", 61.3, 210))
}

func TestForPosition(t *testing.T) {
	assert.Nil(t, ForPosition(nil, 195.5))

	p := models.NewPosition("AAPL")
	p.ActiveCycles = append(p.ActiveCycles,
		models.WheelCycle{Status: models.CycleActive, TotalPremiumCollected: 300},
		models.WheelCycle{Status: models.CycleActive, TotalPremiumCollected: 250},
	)
	p.CompletedCycles = append(p.CompletedCycles, models.WheelCycle{Status: models.CycleCompleted, TotalPremiumCollected: 999})

	got := ForPosition(p, 195.50)
	require.NotNil(t, got)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.InDelta(t, 190.0, got.SafeStrike, 1e-9)
	assert.InDelta(t, 550.0, got.RiskAmount, 1e-9)
}
