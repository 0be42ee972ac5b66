// Package events carries coarse notifications out of the agent: startup,
// scan progress and per-directory failures. Emitters can be chained, so a
// Throttler can sit in front of the websocket Hub and the log.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event names.
const (
	MonitorStarted = "file-monitor-started"
	MonitorError   = "file-monitor-error"
	ScanStarted    = "scan-started"
	ScanCompleted  = "scan-completed"
	Log            = "log"
	ErrorOccurred  = "error-occurred"
	SystemStatus   = "system-status"
	FileProcessed  = "file-processed"
	BatchDelivered = "database-updated"
	ConfigChanged  = "config-changed"
)

// Emitter publishes a named event.
type Emitter interface {
	Emit(name string, payload any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(name string, payload any)

// Emit calls f.
func (f EmitterFunc) Emit(name string, payload any) { f(name, payload) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(string, any) {})

// Message is the envelope sent to event subscribers.
type Message struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload is the payload of MonitorError events.
type ErrorPayload struct {
	Path    string `json:"path,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// =============================================================================
// LogEmitter
// =============================================================================

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit logs the event at info level, or error level for error events.
func (e LogEmitter) Emit(name string, payload any) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case MonitorError, ErrorOccurred:
		logger.Error("event", "event", name, "payload", payload)
	default:
		logger.Info("event", "event", name, "payload", payload)
	}
}

// =============================================================================
// Multi
// =============================================================================

// Multi fans events out to several emitters.
type Multi struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewMulti returns an emitter that forwards to every non-nil emitter.
func NewMulti(emitters ...Emitter) *Multi {
	m := &Multi{}
	for _, e := range emitters {
		m.Add(e)
	}
	return m
}

// Add appends an emitter.
func (m *Multi) Add(e Emitter) {
	if e == nil {
		return
	}
	m.mu.Lock()
	m.emitters = append(m.emitters, e)
	m.mu.Unlock()
}

// Emit forwards to every emitter in order.
func (m *Multi) Emit(name string, payload any) {
	m.mu.RLock()
	emitters := m.emitters
	m.mu.RUnlock()

	for _, e := range emitters {
		e.Emit(name, payload)
	}
}
