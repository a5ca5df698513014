// Package events emits structured observability events for the trading loop and trainer.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	CycleStarted   EventType = "CYCLE_STARTED"
	DecisionMade   EventType = "DECISION_MADE"
	OrderSubmitted EventType = "ORDER_SUBMITTED"
	PositionClosed EventType = "POSITION_CLOSED"
	ModelReloaded  EventType = "MODEL_RELOADED"
	CycleFailed    EventType = "CYCLE_FAILED"
	VersionSaved   EventType = "VERSION_SAVED"
)

// Event represents a system event
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Module    string          `json:"module"`
}

// Recorder is the observability collaborator injected into long-running components
type Recorder interface {
	Emit(module string, data EventData)
}

// Manager handles event emission and logging
type Manager struct {
	log zerolog.Logger

	mu     sync.Mutex
	counts map[EventType]int
	subs   map[chan Event]struct{}
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:    log.With().Str("service", "events").Logger(),
		counts: make(map[EventType]int),
		subs:   make(map[chan Event]struct{}),
	}
}

// Emit logs a typed event
func (m *Manager) Emit(module string, data EventData) {
	if data == nil {
		return
	}
	eventType := data.EventType()
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      marshal(data),
		Module:    module,
	}

	m.mu.Lock()
	m.counts[eventType]++
	for ch := range m.subs {
		select {
		case ch <- event:
		default:
			// subscriber is behind; drop rather than stall the emitter
		}
	}
	m.mu.Unlock()

	eventJSON, _ := json.Marshal(event)
	entry := m.log.Info()
	if eventType == CycleFailed {
		entry = m.log.Warn()
	}
	entry.
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// Subscribe returns a channel that receives every event emitted after the call.
// The returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Counts returns how many events of each type have been emitted
func (m *Manager) Counts() map[EventType]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[EventType]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// Nop discards every event
type Nop struct{}

// Emit does nothing
func (Nop) Emit(string, EventData) {}
