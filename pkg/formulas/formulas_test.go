package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateReturns(t *testing.T) {
	assert.Equal(t, []float64{}, CalculateReturns([]float64{100}))
	assert.InDeltaSlice(t, []float64{0.1, -0.1}, CalculateReturns([]float64{100, 110, 99}), 1e-12)
}

func TestCalculateROC(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	roc := CalculateROC(closes, 10)
	require.NotNil(t, roc)
	assert.InDelta(t, 10.0, *roc, 1e-9)

	assert.Nil(t, CalculateROC(closes[:10], 10))
}

func TestCalculateVolatility(t *testing.T) {
	flat := []float64{100, 100, 100, 100}
	vol := CalculateVolatility(flat, 3)
	require.NotNil(t, vol)
	assert.Equal(t, 0.0, *vol)

	assert.Nil(t, CalculateVolatility(flat, 10))

	vol = CalculateVolatility([]float64{100, 110, 99, 108.9}, 3)
	require.NotNil(t, vol)
	assert.Greater(t, *vol, 0.0)
}

func TestCalculateTradeMetrics(t *testing.T) {
	testCases := []struct {
		name     string
		pnls     []float64
		expected TradeMetrics
	}{
		{
			name:     "no trades",
			pnls:     nil,
			expected: TradeMetrics{},
		},
		{
			name:     "only winners uses mean pnl",
			pnls:     []float64{10, 20},
			expected: TradeMetrics{WinRate: 100, AvgPnL: 15, SortinoRatio: 15, TotalTrades: 2},
		},
		{
			name:     "mixed",
			pnls:     []float64{30, -10, -10, 10},
			expected: TradeMetrics{WinRate: 50, AvgPnL: 5, SortinoRatio: 0.5, TotalTrades: 4},
		},
		{
			name:     "only losers",
			pnls:     []float64{-3, -4},
			expected: TradeMetrics{WinRate: 0, AvgPnL: -3.5, SortinoRatio: -3.5 / 3.5355339059327378, TotalTrades: 2},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateTradeMetrics(tc.pnls)
			assert.InDelta(t, tc.expected.WinRate, got.WinRate, 1e-9)
			assert.InDelta(t, tc.expected.AvgPnL, got.AvgPnL, 1e-9)
			assert.InDelta(t, tc.expected.SortinoRatio, got.SortinoRatio, 1e-9)
			assert.Equal(t, tc.expected.TotalTrades, got.TotalTrades)
		})
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 66.67, Round(66.6666, 2))
	assert.Equal(t, 0.1235, Round(0.12345678, 4))
}
