// Package events provides typed system events and fan-out to stream subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	DriftComputed    EventType = "DRIFT_COMPUTED"
	DriftSetupNeeded EventType = "DRIFT_SETUP_REQUIRED"
	DriftFetchFailed EventType = "DRIFT_FETCH_FAILED"
	AlertRuleCreated EventType = "ALERT_RULE_CREATED"
	AlertRuleUpdated EventType = "ALERT_RULE_UPDATED"
	AlertRuleDeleted EventType = "ALERT_RULE_DELETED"
	AlertRulesLoaded EventType = "ALERT_RULES_LOADED"
	TargetsSaved     EventType = "TARGETS_SAVED"
	SnapshotRecorded EventType = "SNAPSHOT_RECORDED"
	ErrorOccurred    EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

// Manager handles event emission, logging, and subscriber fan-out.
// Subscribers receive events on buffered channels; a subscriber that
// falls behind has events dropped rather than blocking emitters.
type Manager struct {
	log         zerolog.Logger
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:         log.With().Str("service", "events").Logger(),
		subscribers: make(map[string]chan Event),
	}
}

// Emit emits an event to the log and all subscribers
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}

	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		Msg("Event emitted")

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full - drop rather than block the emitter
		}
	}
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, 64)

	m.mu.Lock()
	m.subscribers[id] = ch
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
		m.mu.Unlock()
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}
