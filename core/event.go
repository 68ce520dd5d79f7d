package core

import (
	"time"

	"github.com/google/uuid"
)

// Author names reserved by the runtime.
const (
	AuthorUser = "user"
)

// Conversation roles used in Content.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// EventActions encodes side-effects or orchestration signals attached to an Event.
// Composite agents and the runner interpret these; leaves only set them.
type EventActions struct {
	StateDelta      map[string]any `json:"state_delta,omitempty"`
	ArtifactDelta   map[string]int `json:"artifact_delta,omitempty"`
	Escalate        bool           `json:"escalate,omitempty"`
	TerminateLoop   bool           `json:"terminate_loop,omitempty"`
	EndInvocation   bool           `json:"end_invocation,omitempty"`
	TransferToAgent string         `json:"transfer_to_agent,omitempty"`
	Custom          map[string]any `json:"custom,omitempty"`
}

// IsZero reports whether no action is set.
func (a EventActions) IsZero() bool {
	return len(a.StateDelta) == 0 &&
		len(a.ArtifactDelta) == 0 &&
		!a.Escalate &&
		!a.TerminateLoop &&
		!a.EndInvocation &&
		a.TransferToAgent == "" &&
		len(a.Custom) == 0
}

// Merge folds other into a. Later state/artifact keys win; flags are OR-ed.
func (a *EventActions) Merge(other EventActions) {
	if len(other.StateDelta) > 0 {
		if a.StateDelta == nil {
			a.StateDelta = make(map[string]any, len(other.StateDelta))
		}
		for k, v := range other.StateDelta {
			a.StateDelta[k] = v
		}
	}
	if len(other.ArtifactDelta) > 0 {
		if a.ArtifactDelta == nil {
			a.ArtifactDelta = make(map[string]int, len(other.ArtifactDelta))
		}
		for k, v := range other.ArtifactDelta {
			a.ArtifactDelta[k] = v
		}
	}
	if len(other.Custom) > 0 {
		if a.Custom == nil {
			a.Custom = make(map[string]any, len(other.Custom))
		}
		for k, v := range other.Custom {
			a.Custom[k] = v
		}
	}
	a.Escalate = a.Escalate || other.Escalate
	a.TerminateLoop = a.TerminateLoop || other.TerminateLoop
	a.EndInvocation = a.EndInvocation || other.EndInvocation
	if other.TransferToAgent != "" {
		a.TransferToAgent = other.TransferToAgent
	}
}

// EventError describes a failure surfaced as an event. Code is one of the
// Code* constants in errors.go.
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is the primary unit of communication between agents, the runner and
// external clients. After emission it must be treated as immutable. It
// captures:
//   - Correlation (InvocationID, ID, Author, Branch, Seq)
//   - Conversational content (optional role-based Parts)
//   - Orchestration directives (Actions)
//   - Error metadata
//
// Content may be nil for control or error-only events.
type Event struct {
	ID             string            `json:"id"`
	InvocationID   string            `json:"invocation_id"`
	Author         string            `json:"author"`
	Branch         string            `json:"branch,omitempty"`
	Seq            int64             `json:"seq"`
	Timestamp      time.Time         `json:"timestamp"`
	Content        *Content          `json:"content,omitempty"`
	Partial        bool              `json:"partial,omitempty"`
	TurnComplete   bool              `json:"turn_complete,omitempty"`
	Error          *EventError       `json:"error,omitempty"`
	Actions        EventActions      `json:"actions"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
}

// NewEvent creates a bare event authored by 'author' bound to an invocation.
// Inside an agent prefer InvocationContext.NewEvent, which also stamps the
// branch and sequence number.
func NewEvent(invocationID, author string) Event {
	return Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(invocationID, message string) Event {
	return NewUserContentEvent(invocationID, NewTextContent(RoleUser, message))
}

// NewUserContentEvent creates a user-authored event with arbitrary Content.
func NewUserContentEvent(invocationID string, content *Content) Event {
	e := NewEvent(invocationID, AuthorUser)
	e.Content = content
	e.TurnComplete = true
	return e
}

// NewID generates a new unique identifier for events and invocations.
func NewID() string { return uuid.NewString() }

// IsError reports whether the event carries an error.
func (e Event) IsError() bool { return e.Error != nil }

// Text concatenates all text parts of the event content.
func (e Event) Text() string {
	if e.Content == nil {
		return ""
	}
	return e.Content.Text()
}

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) GetFunctionCalls() []FunctionCall {
	return e.Content.FunctionCalls()
}

// GetFunctionResponses returns any FunctionResponse parts contained within the
// event content preserving their original order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse reports whether the event closes an assistant turn: no
// pending tool calls or responses and not partial.
func (e Event) IsFinalResponse() bool {
	return len(e.GetFunctionCalls()) == 0 &&
		len(e.GetFunctionResponses()) == 0 &&
		!e.Partial
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
