// Package reward shapes raw trading returns into the reward signal the policy learns from.
//
// The same Shaper is used by the training environment and by live reward backfill, so
// every constant lives in Config and is loaded once from configuration. Any drift between
// the two would silently corrupt the learning signal.
package reward

import (
	"fmt"
	"math"

	"github.com/aristath/swingbot/internal/domain"
)

const (
	DefaultDownsidePenalty = 2.0
	DefaultOpportunityCost = -0.001
	DefaultUpsideBonus     = 1.5
)

// Config holds the reward shaping constants
type Config struct {
	DownsidePenalty float64 `yaml:"downside_penalty"`
	DownsideSquared bool    `yaml:"downside_squared"`
	OpportunityCost float64 `yaml:"opportunity_cost"`
	UpsideBonus     float64 `yaml:"upside_bonus"`
}

// DefaultConfig returns the documented default constants.
func DefaultConfig() Config {
	return Config{
		DownsidePenalty: DefaultDownsidePenalty,
		DownsideSquared: true,
		OpportunityCost: DefaultOpportunityCost,
		UpsideBonus:     DefaultUpsideBonus,
	}
}

// Validate rejects constants that would invert the shaping.
func (c Config) Validate() error {
	if c.DownsidePenalty <= 0 {
		return fmt.Errorf("downside penalty must be positive, got %v", c.DownsidePenalty)
	}
	if c.OpportunityCost > 0 {
		return fmt.Errorf("opportunity cost must not be positive, got %v", c.OpportunityCost)
	}
	if c.UpsideBonus <= 0 {
		return fmt.Errorf("upside bonus must be positive, got %v", c.UpsideBonus)
	}
	return nil
}

// Shaper maps a raw per-step return to a shaped reward. Implementations are pure.
type Shaper func(raw float64) float64

// For returns the shaper for a strategy.
func (c Config) For(strategy domain.Strategy) (Shaper, error) {
	switch strategy {
	case domain.StrategySortino:
		return c.sortino, nil
	case domain.StrategyUpside:
		return c.upside, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// Shape applies the strategy's shaping to a single raw return.
func (c Config) Shape(raw float64, strategy domain.Strategy) (float64, error) {
	shaper, err := c.For(strategy)
	if err != nil {
		return 0, err
	}
	return shaper(raw), nil
}

// sortino is loss-averse: flat is taxed, gains pass through, losses are penalised convexly.
func (c Config) sortino(raw float64) float64 {
	if raw == 0 {
		return c.OpportunityCost
	}
	if raw > 0 {
		return raw
	}
	mag := math.Abs(raw)
	if c.DownsideSquared {
		return -(c.DownsidePenalty * mag * mag)
	}
	return raw * c.DownsidePenalty
}

// upside is gain-focused: gains are amplified, losses pass through linearly.
func (c Config) upside(raw float64) float64 {
	if raw == 0 {
		return c.OpportunityCost
	}
	if raw > 0 {
		return raw * c.UpsideBonus
	}
	return raw
}

// ReturnFor computes the raw fractional return of a round trip opened on side.
// A long (opened with BUY) earns exit-entry, a short (opened with SELL) earns entry-exit.
func ReturnFor(openSide domain.TradeSide, entry, exit float64) (float64, error) {
	if entry <= 0 {
		return 0, fmt.Errorf("entry price must be positive, got %v", entry)
	}
	switch openSide {
	case domain.TradeSideBuy:
		return (exit - entry) / entry, nil
	case domain.TradeSideSell:
		return (entry - exit) / entry, nil
	default:
		return 0, fmt.Errorf("invalid trade side %q", openSide)
	}
}
