// Package domain holds the core types shared across swingbot modules.
// It has no infrastructure dependencies.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Strategy selects a reward shaping policy and the model lineage trained with it
type Strategy string

const (
	StrategySortino Strategy = "sortino" // Loss-averse
	StrategyUpside  Strategy = "upside"  // Gain-focused
)

// Strategies lists every supported strategy in a stable order.
func Strategies() []Strategy {
	return []Strategy{StrategySortino, StrategyUpside}
}

// ParseStrategy validates a strategy key. An empty key is rejected.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategySortino:
		return StrategySortino, nil
	case StrategyUpside:
		return StrategyUpside, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (expected sortino or upside)", s)
	}
}

// TrainingType records how a model version was produced
type TrainingType string

const (
	TrainingInitial     TrainingType = "initial"
	TrainingOnline      TrainingType = "online"
	TrainingFullRetrain TrainingType = "full_retrain"
)

// Action is the policy's discrete output
type Action int

const (
	ActionSell Action = 0 // Sell, short or stay flat
	ActionBuy  Action = 1
)

// String returns BUY or SELL
func (a Action) String() string {
	if a == ActionBuy {
		return "BUY"
	}
	return "SELL"
}

// Side returns the order side that expresses the action
func (a Action) Side() TradeSide {
	if a == ActionBuy {
		return TradeSideBuy
	}
	return TradeSideSell
}

// TradeSide is the order direction recorded on a trade
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// Opposite returns the side that closes a position opened on s
func (s TradeSide) Opposite() TradeSide {
	if s == TradeSideBuy {
		return TradeSideSell
	}
	return TradeSideBuy
}

// Bar is one OHLCV row
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Closes extracts the close column
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Observation is a fixed-shape feature window, one row per day
type Observation [][]float64

// Flatten returns the observation row-major
func (o Observation) Flatten() []float64 {
	var out []float64
	for _, row := range o {
		out = append(out, row...)
	}
	return out
}

// Trade is a recorded order fill
type Trade struct {
	ID           int64     `json:"id"`
	Ticker       string    `json:"ticker"`
	Action       TradeSide `json:"action"`
	Price        float64   `json:"price"`
	Quantity     float64   `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
	AccountID    int64     `json:"account_id"`
	Strategy     Strategy  `json:"strategy"`
	OrderID      string    `json:"order_id,omitempty"`
	PnL          *float64  `json:"pnl,omitempty"`
	SellTradeID  *int64    `json:"sell_trade_id,omitempty"` // Closing trade, set on the opener
	ExperienceID *int64    `json:"experience_id,omitempty"`
}

// Validate checks the fields the store relies on
func (t Trade) Validate() error {
	if strings.TrimSpace(t.Ticker) == "" {
		return fmt.Errorf("ticker is required")
	}
	if t.Action != TradeSideBuy && t.Action != TradeSideSell {
		return fmt.Errorf("action must be BUY or SELL, got %q", t.Action)
	}
	if t.Price <= 0 {
		return fmt.Errorf("price must be positive, got %v", t.Price)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", t.Quantity)
	}
	return nil
}

// Experience is one recorded (state, action, outcome) tuple
type Experience struct {
	ID          int64       `json:"id"`
	Ticker      string      `json:"ticker"`
	AccountID   int64       `json:"account_id"`
	Strategy    Strategy    `json:"strategy"`
	CycleID     string      `json:"cycle_id,omitempty"`
	Observation Observation `json:"observation"`
	Action      Action      `json:"action"`
	TradeID     *int64      `json:"trade_id,omitempty"`
	Reward      *float64    `json:"reward,omitempty"`
	IsCompleted bool        `json:"is_completed"`
	Timestamp   time.Time   `json:"timestamp"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// ModelVersion is one registry entry
type ModelVersion struct {
	ID               int64        `json:"id"`
	VersionNumber    int          `json:"version_number"`
	Strategy         Strategy     `json:"strategy"`
	ModelPath        string       `json:"model_path"`
	TrainingType     TrainingType `json:"training_type"`
	TotalExperiences int          `json:"total_experiences"`
	WinRate          *float64     `json:"win_rate,omitempty"`
	AvgPnL           *float64     `json:"avg_pnl,omitempty"`
	SortinoRatio     *float64     `json:"sortino_ratio,omitempty"`
	TotalTrades      *int         `json:"total_trades,omitempty"`
	IsActive         bool         `json:"is_active"`
	CreatedAt        time.Time    `json:"created_at"`
	Notes            string       `json:"notes,omitempty"`
}

// Performance summarises closed-trade results
type Performance struct {
	WinRate      float64 `json:"win_rate"` // Percent of winning trades
	AvgPnL       float64 `json:"avg_pnl"`
	SortinoRatio float64 `json:"sortino_ratio"`
	TotalTrades  int     `json:"total_trades"`
}

// AccountType distinguishes paper from live brokerage accounts
type AccountType string

const (
	AccountPaper AccountType = "paper"
	AccountLive  AccountType = "live"
)

// Account is a brokerage account the daemon trades
type Account struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	Type            AccountType `json:"type"`
	APIKey          string      `json:"-"`
	APISecret       string      `json:"-"`
	BaseURL         string      `json:"base_url"`
	AllowShorting   bool        `json:"allow_shorting"`
	MaxPositionSize float64     `json:"max_position_size"` // Fraction of portfolio value per position
	IsActive        bool        `json:"is_active"`
}
