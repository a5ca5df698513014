package events

import (
	"encoding/json"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// CycleStartedData contains data for CycleStarted events
type CycleStartedData struct {
	CycleID  string `json:"cycle_id"`
	Strategy string `json:"strategy"`
	Symbols  int    `json:"symbols"`
	Accounts int    `json:"accounts"`
}

// EventType returns the event type for CycleStartedData
func (d *CycleStartedData) EventType() EventType {
	return CycleStarted
}

// DecisionMadeData contains data for DecisionMade events
type DecisionMadeData struct {
	CycleID        string  `json:"cycle_id"`
	Ticker         string  `json:"ticker"`
	AccountID      int64   `json:"account_id"`
	Action         string  `json:"action"`
	Effect         string  `json:"effect"`
	Price          float64 `json:"price"`
	BuyProbability float64 `json:"buy_probability"`
	ExperienceID   int64   `json:"experience_id,omitempty"`
}

// EventType returns the event type for DecisionMadeData
func (d *DecisionMadeData) EventType() EventType {
	return DecisionMade
}

// OrderSubmittedData contains data for OrderSubmitted events
type OrderSubmittedData struct {
	Ticker    string  `json:"ticker"`
	AccountID int64   `json:"account_id"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	OrderID   string  `json:"order_id,omitempty"`
	TradeID   int64   `json:"trade_id"`
}

// EventType returns the event type for OrderSubmittedData
func (d *OrderSubmittedData) EventType() EventType {
	return OrderSubmitted
}

// PositionClosedData contains data for PositionClosed events
type PositionClosedData struct {
	Ticker        string   `json:"ticker"`
	AccountID     int64    `json:"account_id"`
	OpenTradeID   int64    `json:"open_trade_id"`
	CloseTradeID  int64    `json:"close_trade_id"`
	PnL           float64  `json:"pnl"`
	Reward        *float64 `json:"reward,omitempty"`
	BackfillError string   `json:"backfill_error,omitempty"`
}

// EventType returns the event type for PositionClosedData
func (d *PositionClosedData) EventType() EventType {
	return PositionClosed
}

// ModelReloadedData contains data for ModelReloaded events
type ModelReloadedData struct {
	Strategy string `json:"strategy"`
	Source   string `json:"source"`
	Path     string `json:"path"`
	Version  int    `json:"version,omitempty"`
	Changed  bool   `json:"changed"`
}

// EventType returns the event type for ModelReloadedData
func (d *ModelReloadedData) EventType() EventType {
	return ModelReloaded
}

// CycleFailedData contains data for CycleFailed events
type CycleFailedData struct {
	CycleID string `json:"cycle_id,omitempty"`
	Stage   string `json:"stage"`
	Ticker  string `json:"ticker,omitempty"`
	Account int64  `json:"account_id,omitempty"`
	Error   string `json:"error"`
}

// EventType returns the event type for CycleFailedData
func (d *CycleFailedData) EventType() EventType {
	return CycleFailed
}

// VersionSavedData contains data for VersionSaved events
type VersionSavedData struct {
	Strategy         string `json:"strategy"`
	Version          int    `json:"version"`
	TrainingType     string `json:"training_type"`
	TotalExperiences int    `json:"total_experiences"`
	ModelPath        string `json:"model_path"`
}

// EventType returns the event type for VersionSavedData
func (d *VersionSavedData) EventType() EventType {
	return VersionSaved
}

// marshal encodes event data, falling back to an error payload
func marshal(data EventData) json.RawMessage {
	if data == nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(data)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return b
}
