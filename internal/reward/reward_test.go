package reward

import (
	"testing"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortino_NonNegativePassesThrough(t *testing.T) {
	cfg := DefaultConfig()
	for _, raw := range []float64{1e-9, 0.01, 0.1, 0.5, 3} {
		got, err := cfg.Shape(raw, domain.StrategySortino)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	}
}

func TestSortino_FlatIsOpportunityCost(t *testing.T) {
	got, err := DefaultConfig().Shape(0, domain.StrategySortino)
	require.NoError(t, err)
	assert.Equal(t, DefaultOpportunityCost, got)
	assert.NotEqual(t, 0.0, got)
}

func TestSortino_LossesAreSquared(t *testing.T) {
	cfg := DefaultConfig()
	for _, raw := range []float64{-0.001, -0.05, -0.1, -0.5} {
		got, err := cfg.Shape(raw, domain.StrategySortino)
		require.NoError(t, err)
		assert.InDelta(t, -(2.0 * raw * raw), got, 1e-15)
	}
}

func TestSortino_LinearDownside(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DownsideSquared = false
	got, err := cfg.Shape(-0.1, domain.StrategySortino)
	require.NoError(t, err)
	assert.InDelta(t, -0.2, got, 1e-15)
}

func TestUpside(t *testing.T) {
	cfg := DefaultConfig()
	testCases := []struct {
		raw      float64
		expected float64
	}{
		{0, DefaultOpportunityCost},
		{0.1, 0.15},
		{-0.1, -0.1},
	}
	for _, tc := range testCases {
		got, err := cfg.Shape(tc.raw, domain.StrategyUpside)
		require.NoError(t, err)
		assert.InDelta(t, tc.expected, got, 1e-12)
	}
}

func TestFor_UnknownStrategy(t *testing.T) {
	_, err := DefaultConfig().For("momentum")
	assert.Error(t, err)
}

func TestReturnFor(t *testing.T) {
	r, err := ReturnFor(domain.TradeSideBuy, 100, 110)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, r, 1e-12)

	r, err = ReturnFor(domain.TradeSideBuy, 100, 90)
	require.NoError(t, err)
	assert.InDelta(t, -0.10, r, 1e-12)

	r, err = ReturnFor(domain.TradeSideSell, 100, 90)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, r, 1e-12)

	_, err = ReturnFor(domain.TradeSideBuy, 0, 90)
	assert.Error(t, err)
}

func TestRoundTripScenarios(t *testing.T) {
	cfg := DefaultConfig()

	r, err := ReturnFor(domain.TradeSideBuy, 100, 110)
	require.NoError(t, err)
	got, err := cfg.Shape(r, domain.StrategySortino)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, got, 1e-12)

	r, err = ReturnFor(domain.TradeSideBuy, 100, 90)
	require.NoError(t, err)
	got, err = cfg.Shape(r, domain.StrategySortino)
	require.NoError(t, err)
	assert.InDelta(t, -0.02, got, 1e-12)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.DownsidePenalty = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.OpportunityCost = 0.01
	assert.Error(t, bad.Validate())
}
