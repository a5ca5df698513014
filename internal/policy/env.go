package policy

import (
	"fmt"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/reward"
)

// Position is the simulated holding inside an environment
type Position int

const (
	PositionFlat Position = iota
	PositionLong
	PositionShort
)

// StepInfo carries diagnostics about the episode so far
type StepInfo struct {
	Tick        int
	Position    Position
	Trades      int
	TotalReward float64
	TotalProfit float64 // Compounded fractional return of closed positions
}

// Environment is the adapter the learner drives.
// Step must not be called after it reports terminated or truncated without a Reset.
type Environment interface {
	Reset() domain.Observation
	Step(action domain.Action) (obs domain.Observation, reward float64, terminated, truncated bool, info StepInfo)
}

// StocksEnv replays daily bars for one ticker with the same position rules as the live loop.
// BUY opens a long when flat and covers a short; SELL closes a long and, when shorting is
// allowed, opens a short when flat. Closing a position earns the shaped fractional return
// of the round trip, every other step earns the shaped zero return.
type StocksEnv struct {
	features   [][]float64
	prices     []float64
	window     int
	shaper     reward.Shaper
	allowShort bool
	maxSteps   int

	tick        int
	steps       int
	position    Position
	entryPrice  float64
	trades      int
	totalReward float64
	totalProfit float64
}

// EnvConfig configures a StocksEnv
type EnvConfig struct {
	Window     int
	Shaper     reward.Shaper
	AllowShort bool
	MaxSteps   int // Truncate episodes after this many steps; <= 0 runs to the last bar
}

// NewStocksEnv builds an environment over bars
func NewStocksEnv(bars []domain.Bar, cfg EnvConfig) (*StocksEnv, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if cfg.Shaper == nil {
		return nil, fmt.Errorf("reward shaper is required")
	}
	if len(bars) < cfg.Window+2 {
		return nil, fmt.Errorf("need at least %d rows, got %d", cfg.Window+2, len(bars))
	}
	env := &StocksEnv{
		features:   SignalFeatures(bars),
		prices:     domain.Closes(bars),
		window:     cfg.Window,
		shaper:     cfg.Shaper,
		allowShort: cfg.AllowShort,
		maxSteps:   cfg.MaxSteps,
	}
	env.Reset()
	return env, nil
}

// Reset rewinds to the first full window, flat
func (e *StocksEnv) Reset() domain.Observation {
	e.tick = e.window - 1
	e.steps = 0
	e.position = PositionFlat
	e.entryPrice = 0
	e.trades = 0
	e.totalReward = 0
	e.totalProfit = 1
	return e.observation()
}

// Step acts at the current bar's close and advances one bar
func (e *StocksEnv) Step(action domain.Action) (domain.Observation, float64, bool, bool, StepInfo) {
	price := e.prices[e.tick]
	raw := 0.0

	switch {
	case action == domain.ActionBuy && e.position == PositionFlat:
		e.open(PositionLong, price)
	case action == domain.ActionBuy && e.position == PositionShort:
		raw = e.close(domain.TradeSideSell, price)
	case action == domain.ActionSell && e.position == PositionLong:
		raw = e.close(domain.TradeSideBuy, price)
	case action == domain.ActionSell && e.position == PositionFlat && e.allowShort:
		e.open(PositionShort, price)
	}

	shaped := e.shaper(raw)
	e.totalReward += shaped
	e.tick++
	e.steps++

	terminated := e.tick >= len(e.prices)-1
	truncated := !terminated && e.maxSteps > 0 && e.steps >= e.maxSteps

	return e.observation(), shaped, terminated, truncated, StepInfo{
		Tick:        e.tick,
		Position:    e.position,
		Trades:      e.trades,
		TotalReward: e.totalReward,
		TotalProfit: e.totalProfit,
	}
}

func (e *StocksEnv) open(pos Position, price float64) {
	e.position = pos
	e.entryPrice = price
	e.trades++
}

func (e *StocksEnv) close(openSide domain.TradeSide, price float64) float64 {
	raw, err := reward.ReturnFor(openSide, e.entryPrice, price)
	if err != nil {
		raw = 0
	}
	e.totalProfit *= 1 + raw
	e.position = PositionFlat
	e.entryPrice = 0
	e.trades++
	return raw
}

func (e *StocksEnv) observation() domain.Observation {
	obs, _ := ObservationAt(e.features, e.tick, e.window)
	return obs
}
