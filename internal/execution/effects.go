package execution

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/swingbot/internal/domain"
)

// Effect is what a signal does to an account's position in one symbol
type Effect string

const (
	EffectNone       Effect = "none"
	EffectOpenLong   Effect = "open_long"
	EffectOpenShort  Effect = "open_short"
	EffectCloseLong  Effect = "close_long"
	EffectCloseShort Effect = "close_short"
)

// Closes reports whether the effect ends a position
func (e Effect) Closes() bool {
	return e == EffectCloseLong || e == EffectCloseShort
}

// Resolve applies the position table:
//
//	BUY  + short -> cover      BUY  + long -> none    BUY  + flat -> open long
//	SELL + long  -> close      SELL + short -> none   SELL + flat -> open short if allowed
func Resolve(action domain.Action, pos *domain.Position, allowShort bool) Effect {
	switch action {
	case domain.ActionBuy:
		switch {
		case pos.IsShort():
			return EffectCloseShort
		case pos.IsLong():
			return EffectNone
		default:
			return EffectOpenLong
		}
	default:
		switch {
		case pos.IsLong():
			return EffectCloseLong
		case pos.IsShort():
			return EffectNone
		case allowShort:
			return EffectOpenShort
		default:
			return EffectNone
		}
	}
}

// openSide is the side of the trade that opens or opened the position an effect acts on
func (e Effect) openSide() domain.TradeSide {
	switch e {
	case EffectOpenShort, EffectCloseShort:
		return domain.TradeSideSell
	default:
		return domain.TradeSideBuy
	}
}

// orderSide is the side of the order that carries out the effect
func (e Effect) orderSide() domain.TradeSide {
	switch e {
	case EffectOpenLong, EffectCloseShort:
		return domain.TradeSideBuy
	default:
		return domain.TradeSideSell
	}
}

// Sizer computes opening order quantities
type Sizer struct {
	// Fractional allows fractional share quantities; otherwise quantities round down to whole shares
	Fractional bool
}

// Quantity returns min(portfolio value * max position size, buying power) / price.
// Returns zero when the account cannot afford a position.
func (s Sizer) Quantity(info domain.AccountInfo, maxPositionSize, price float64) float64 {
	if price <= 0 || maxPositionSize <= 0 {
		return 0
	}
	budget := decimal.NewFromFloat(info.PortfolioValue).Mul(decimal.NewFromFloat(maxPositionSize))
	budget = decimal.Min(budget, decimal.NewFromFloat(info.BuyingPower))
	if !budget.IsPositive() {
		return 0
	}

	qty := budget.Div(decimal.NewFromFloat(price))
	if s.Fractional {
		qty = qty.Truncate(6)
	} else {
		qty = qty.Floor()
	}
	return qty.InexactFloat64()
}
