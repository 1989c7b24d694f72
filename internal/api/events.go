package api

import (
	"encoding/json"
	"fmt"
)

// EventType names a streaming event.
type EventType string

const (
	EventMessage     EventType = "message"
	EventToolStart   EventType = "tool_start"
	EventToolEnd     EventType = "tool_end"
	EventTodosUpdate EventType = "todos_update"
	eventError       EventType = "error"
)

// Event is one decoded stream event. The concrete types are MessageEvent,
// ToolStartEvent, ToolEndEvent and TodosUpdateEvent.
type Event interface {
	Type() EventType
	isEvent()
}

// MessageEvent carries a chunk of the agent's answer.
type MessageEvent struct {
	Content string `json:"content"`
	Role    string `json:"role,omitempty"`
}

// ToolStartEvent is sent when the agent starts a tool call.
type ToolStartEvent struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// ToolEndEvent closes the tool call opened by the ToolStartEvent with the
// same ToolCallID.
type ToolEndEvent struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// OutputText renders Output as plain text: JSON strings are unquoted,
// anything else is returned verbatim.
func (e ToolEndEvent) OutputText() string {
	if len(e.Output) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(e.Output, &s) == nil {
		return s
	}
	return string(e.Output)
}

// Todo is one item of the agent's plan.
type Todo struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// TodosUpdateEvent replaces the agent's current plan.
type TodosUpdateEvent struct {
	Todos []Todo `json:"todos"`
}

type errorEvent struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (MessageEvent) Type() EventType     { return EventMessage }
func (ToolStartEvent) Type() EventType   { return EventToolStart }
func (ToolEndEvent) Type() EventType     { return EventToolEnd }
func (TodosUpdateEvent) Type() EventType { return EventTodosUpdate }
func (errorEvent) Type() EventType       { return eventError }

func (MessageEvent) isEvent()     {}
func (ToolStartEvent) isEvent()   {}
func (ToolEndEvent) isEvent()     {}
func (TodosUpdateEvent) isEvent() {}
func (errorEvent) isEvent()       {}

// EventSink receives the non-message events of a stream, in stream order.
// ToolFinished is only called for a tool call whose ToolStarted was seen.
type EventSink interface {
	ToolStarted(ToolStartEvent)
	ToolFinished(ToolEndEvent)
	TodosUpdated(TodosUpdateEvent)
}

// NopSink discards side-channel events.
type NopSink struct{}

func (NopSink) ToolStarted(ToolStartEvent)    {}
func (NopSink) ToolFinished(ToolEndEvent)     {}
func (NopSink) TodosUpdated(TodosUpdateEvent) {}

// decodeEvent parses one SSE data payload. The type comes from the JSON
// "type" field, falling back to the SSE event name and then to message.
// Unknown types decode to a nil Event.
func decodeEvent(name string, data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}

	kind := head.Type
	if kind == "" {
		kind = EventType(name)
	}
	if kind == "" {
		kind = EventMessage
	}

	var (
		ev  Event
		err error
	)
	switch kind {
	case EventMessage:
		var e MessageEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventToolStart:
		var e ToolStartEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventToolEnd:
		var e ToolEndEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventTodosUpdate:
		var e TodosUpdateEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case eventError:
		var e errorEvent
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s event: %w", kind, err)
	}
	return ev, nil
}
