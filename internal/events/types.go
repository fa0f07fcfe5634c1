// Package events distributes run and node lifecycle events to subscribers.
//
// The engine publishes state transitions here; external collaborators (the
// run-history store, log shippers) subscribe. Publishing never blocks on a
// slow subscriber: events are dropped per-subscriber when a buffer fills,
// and other subscribers are unaffected.
package events

import "time"

// EventType identifies the lifecycle transition an event describes.
type EventType string

// Run lifecycle events.
const (
	RunStarted   EventType = "run.started"
	RunCompleted EventType = "run.completed"
	RunFailed    EventType = "run.failed"
	RunCancelled EventType = "run.cancelled"
)

// Node lifecycle events.
const (
	NodeStarted   EventType = "node.started"
	NodeCompleted EventType = "node.completed"
	NodeFailed    EventType = "node.failed"
	NodeSkipped   EventType = "node.skipped"
	NodeRetrying  EventType = "node.retrying"
)

// Level is the severity attached to an event.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Event is one lifecycle transition emitted during a workflow run.
type Event struct {
	Type       EventType      `json:"type"`
	Level      Level          `json:"level"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	NodeID     string         `json:"node_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Filter selects which events a subscription receives. Zero-valued fields
// match everything.
type Filter struct {
	// Types restricts delivery to the listed event types.
	Types []EventType
	// RunID restricts delivery to one run.
	RunID string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(ev Event) bool {
	if f.RunID != "" && f.RunID != ev.RunID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == ev.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
