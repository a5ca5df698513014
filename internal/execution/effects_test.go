package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/swingbot/internal/domain"
)

func TestResolve(t *testing.T) {
	long := &domain.Position{Symbol: "AAPL", Quantity: 10}
	short := &domain.Position{Symbol: "AAPL", Quantity: -10}

	tests := []struct {
		name       string
		action     domain.Action
		pos        *domain.Position
		allowShort bool
		want       Effect
	}{
		{"buy covers short", domain.ActionBuy, short, false, EffectCloseShort},
		{"buy while long", domain.ActionBuy, long, true, EffectNone},
		{"buy when flat", domain.ActionBuy, nil, false, EffectOpenLong},
		{"sell closes long", domain.ActionSell, long, false, EffectCloseLong},
		{"sell while short", domain.ActionSell, short, true, EffectNone},
		{"sell flat without shorting", domain.ActionSell, nil, false, EffectNone},
		{"sell flat with shorting", domain.ActionSell, nil, true, EffectOpenShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.action, tt.pos, tt.allowShort))
		})
	}
}

func TestEffectSides(t *testing.T) {
	assert.Equal(t, domain.TradeSideBuy, EffectOpenLong.orderSide())
	assert.Equal(t, domain.TradeSideSell, EffectCloseLong.orderSide())
	assert.Equal(t, domain.TradeSideSell, EffectOpenShort.orderSide())
	assert.Equal(t, domain.TradeSideBuy, EffectCloseShort.orderSide())

	assert.Equal(t, domain.TradeSideBuy, EffectCloseLong.openSide())
	assert.Equal(t, domain.TradeSideSell, EffectCloseShort.openSide())

	assert.True(t, EffectCloseShort.Closes())
	assert.False(t, EffectOpenLong.Closes())
}

func TestSizer_Quantity(t *testing.T) {
	tests := []struct {
		name   string
		sizer  Sizer
		info   domain.AccountInfo
		maxPos float64
		price  float64
		want   float64
	}{
		{"buying power binds", Sizer{}, domain.AccountInfo{PortfolioValue: 100000, BuyingPower: 5000}, 0.1, 110, 45},
		{"position cap binds", Sizer{}, domain.AccountInfo{PortfolioValue: 10000, BuyingPower: 50000}, 0.1, 100, 10},
		{"fractional", Sizer{Fractional: true}, domain.AccountInfo{PortfolioValue: 100000, BuyingPower: 5000}, 0.1, 110, 45.454545},
		{"no buying power", Sizer{}, domain.AccountInfo{PortfolioValue: 100000}, 0.1, 110, 0},
		{"price above budget", Sizer{}, domain.AccountInfo{PortfolioValue: 1000, BuyingPower: 1000}, 0.1, 500, 0},
		{"invalid price", Sizer{}, domain.AccountInfo{PortfolioValue: 1000, BuyingPower: 1000}, 0.1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sizer.Quantity(tt.info, tt.maxPos, tt.price))
		})
	}
}
