// Package events carries notifications from the sync core to whatever
// presents them: logs, a local UI socket, tests.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

const (
	Connection   = "websocket-connection"
	SyncStatus   = "sync-status-change"
	SyncUpdate   = "sync-update"
	Conflict     = "sync-conflict"
	DeviceStatus = "device-status-change"
)

// Sink receives named events.
type Sink interface {
	Emit(event string, payload interface{}) error
}

// StatusEvent is the payload of connection and sync status events.
type StatusEvent struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// UpdateEvent is the payload of sync-update events.
type UpdateEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// DeviceStatusEvent is the payload of device-status-change events.
type DeviceStatusEvent struct {
	DeviceID  string `json:"device_id"`
	IsOnline  bool   `json:"is_online"`
	Timestamp int64  `json:"timestamp"`
}

func NewStatus(status, message string) StatusEvent {
	return StatusEvent{Status: status, Message: message, Timestamp: time.Now().UnixMilli()}
}

func NewUpdate(kind string, data interface{}) UpdateEvent {
	return UpdateEvent{Type: kind, Data: data, Timestamp: time.Now().UnixMilli()}
}

// Emit sends to sink and logs a failure instead of returning it. A sink that
// cannot deliver must not fail a sync operation.
func Emit(sink Sink, event string, payload interface{}) {
	if sink == nil {
		return
	}
	if err := sink.Emit(event, payload); err != nil {
		log.Printf("⚠️ Failed to emit %s: %v", event, err)
	}
}

// LogSink writes every event to the standard logger.
type LogSink struct{}

func (LogSink) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	log.Printf("📣 %s %s", event, data)
	return nil
}

// Multi fans out to several sinks. Every sink is tried; the first error is
// returned.
type Multi []Sink

func (m Multi) Emit(event string, payload interface{}) error {
	var first error
	for _, s := range m {
		if err := s.Emit(event, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorded is one event captured by a Recorder.
type Recorded struct {
	Name    string
	Payload interface{}
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Emit(event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Name: event, Payload: payload})
	return nil
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Named returns the payloads of events called name.
func (r *Recorder) Named(name string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interface{}
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Statuses returns the Status field of every StatusEvent called name.
func (r *Recorder) Statuses(name string) []string {
	var out []string
	for _, p := range r.Named(name) {
		if s, ok := p.(StatusEvent); ok {
			out = append(out, s.Status)
		}
	}
	return out
}
