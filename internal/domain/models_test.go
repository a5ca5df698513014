package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Sortino ")
	require.NoError(t, err)
	assert.Equal(t, StrategySortino, s)

	s, err = ParseStrategy("upside")
	require.NoError(t, err)
	assert.Equal(t, StrategyUpside, s)

	_, err = ParseStrategy("")
	assert.Error(t, err)
	_, err = ParseStrategy("momentum")
	assert.Error(t, err)
}

func TestAction(t *testing.T) {
	assert.Equal(t, "BUY", ActionBuy.String())
	assert.Equal(t, "SELL", ActionSell.String())
	assert.Equal(t, TradeSideBuy, ActionBuy.Side())
	assert.Equal(t, TradeSideSell, ActionSell.Side())
	assert.Equal(t, TradeSideSell, TradeSideBuy.Opposite())
	assert.Equal(t, TradeSideBuy, TradeSideSell.Opposite())
}

func TestTradeValidate(t *testing.T) {
	valid := Trade{Ticker: "AAPL", Action: TradeSideBuy, Price: 100, Quantity: 1}
	assert.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		mutate func(*Trade)
		errMsg string
	}{
		{"missing ticker", func(tr *Trade) { tr.Ticker = " " }, "ticker"},
		{"bad side", func(tr *Trade) { tr.Action = "HOLD" }, "action"},
		{"zero price", func(tr *Trade) { tr.Price = 0 }, "price must be positive"},
		{"negative quantity", func(tr *Trade) { tr.Quantity = -1 }, "quantity must be positive"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := valid
			tc.mutate(&tr)
			err := tr.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestObservationFlatten(t *testing.T) {
	obs := Observation{{1, 2}, {3, 4}}
	assert.Equal(t, []float64{1, 2, 3, 4}, obs.Flatten())
}

func TestPositionDirection(t *testing.T) {
	var none *Position
	assert.False(t, none.IsLong())
	assert.False(t, none.IsShort())
	assert.True(t, (&Position{Quantity: 3}).IsLong())
	assert.True(t, (&Position{Quantity: -3}).IsShort())
}
