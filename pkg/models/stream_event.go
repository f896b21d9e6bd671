package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind enumerates the stream event types the system interprets.
type EventKind uint8

const (
	// EventUnknown marks a provider event type this system passes through opaquely.
	EventUnknown EventKind = iota
	EventWorkflowStarted
	EventNodeStarted
	EventNodeFinished
	EventTextChunk
	EventWorkflowFinished
)

var eventKindNames = map[EventKind]string{
	EventWorkflowStarted:  "workflow_started",
	EventNodeStarted:      "node_started",
	EventNodeFinished:     "node_finished",
	EventTextChunk:        "text_chunk",
	EventWorkflowFinished: "workflow_finished",
}

// EventType is the decoded "event" discriminator of a stream message. Known
// values carry their kind; anything else keeps the raw provider string.
type EventType struct {
	Kind EventKind
	Name string
}

// Known event types.
var (
	WorkflowStarted  = NewEventType(EventWorkflowStarted)
	NodeStarted      = NewEventType(EventNodeStarted)
	NodeFinished     = NewEventType(EventNodeFinished)
	TextChunk        = NewEventType(EventTextChunk)
	WorkflowFinished = NewEventType(EventWorkflowFinished)
)

// NewEventType returns the event type of a known kind.
func NewEventType(kind EventKind) EventType {
	return EventType{Kind: kind, Name: eventKindNames[kind]}
}

// ParseEventType maps a raw provider string onto a known kind, or an unknown
// variant that keeps the raw name.
func ParseEventType(raw string) EventType {
	for kind, name := range eventKindNames {
		if name == raw {
			return EventType{Kind: kind, Name: name}
		}
	}

	return EventType{Kind: EventUnknown, Name: raw}
}

// Known reports whether the type is one the system interprets.
func (t EventType) Known() bool {
	return t.Kind != EventUnknown
}

func (t EventType) String() string {
	return t.Name
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Name)
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("event type must be a string: %w", err)
	}

	*t = ParseEventType(raw)

	return nil
}

// Value implements driver.Valuer.
func (t EventType) Value() (driver.Value, error) {
	return t.Name, nil
}

// Scan implements sql.Scanner.
func (t *EventType) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*t = ParseEventType(v)
	case []byte:
		*t = ParseEventType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into EventType", src)
	}

	return nil
}

// StreamEvent is one decoded message from the provider stream, stored verbatim.
// Sequence is the arrival index and is authoritative for ordering; Timestamp is
// informational.
type StreamEvent struct {
	ID            int64          `json:"id"`
	ExecutionID   int64          `json:"task_execution_id"`
	Sequence      int            `json:"sequence"`
	Type          EventType      `json:"event_type"`
	TaskID        string         `json:"task_id,omitempty"`
	WorkflowRunID string         `json:"workflow_run_id,omitempty"`
	NodeID        string         `json:"node_id,omitempty"`
	Data          map[string]any `json:"event_data"`
	Timestamp     time.Time      `json:"event_timestamp"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Payload returns the event's nested "data" object, or an empty map.
func (e *StreamEvent) Payload() map[string]any {
	if data, ok := e.Data["data"].(map[string]any); ok {
		return data
	}

	return map[string]any{}
}
