package testutil

import (
	"github.com/hupe1980/agenttree/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder().Author("greeter").Invocation("inv-1").AssistantText("hello").Build()
//
// Chain only the parts you need.
type EventBuilder struct {
	author        string
	invocationID  string
	id            string
	branch        string
	role          string
	textParts     []string
	funcCalls     []core.FunctionCall
	funcResponses []core.FunctionResponse
	partial       bool
	turnComplete  bool
	actions       core.EventActions
	errCode       string
	errMsg        string
	metadata      map[string]string
}

// NewEventBuilder creates a builder with default author "agent".
func NewEventBuilder() *EventBuilder { return &EventBuilder{author: "agent"} }

// Author sets the author name.
func (b *EventBuilder) Author(a string) *EventBuilder { b.author = a; return b }

// Invocation sets the invocation id.
func (b *EventBuilder) Invocation(id string) *EventBuilder { b.invocationID = id; return b }

// ID overrides the generated event id.
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Branch sets the branch path.
func (b *EventBuilder) Branch(br string) *EventBuilder { b.branch = br; return b }

// Partial marks the event as a streaming fragment.
func (b *EventBuilder) Partial() *EventBuilder { b.partial = true; return b }

// TurnComplete marks the end of a model turn.
func (b *EventBuilder) TurnComplete() *EventBuilder { b.turnComplete = true; return b }

// UserText appends a text part with role user.
func (b *EventBuilder) UserText(t string) *EventBuilder {
	b.role = core.RoleUser
	b.textParts = append(b.textParts, t)
	return b
}

// AssistantText appends a text part with role assistant.
func (b *EventBuilder) AssistantText(t string) *EventBuilder {
	b.role = core.RoleAssistant
	b.textParts = append(b.textParts, t)
	return b
}

// FunctionCall adds a function call part with JSON arguments.
func (b *EventBuilder) FunctionCall(id, name, args string) *EventBuilder {
	b.role = core.RoleAssistant
	b.funcCalls = append(b.funcCalls, core.FunctionCall{ID: id, Name: name, Arguments: args})
	return b
}

// FunctionResponse adds a function response part. A non-nil err fills the
// response's Error field.
func (b *EventBuilder) FunctionResponse(id, name string, result any, err error) *EventBuilder {
	b.role = core.RoleTool
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	b.funcResponses = append(b.funcResponses, fr)
	return b
}

// StateDelta adds a state change action.
func (b *EventBuilder) StateDelta(key string, val any) *EventBuilder {
	if b.actions.StateDelta == nil {
		b.actions.StateDelta = map[string]any{}
	}
	b.actions.StateDelta[key] = val
	return b
}

// Escalate sets the escalate action.
func (b *EventBuilder) Escalate() *EventBuilder { b.actions.Escalate = true; return b }

// TerminateLoop sets the terminate-loop action.
func (b *EventBuilder) TerminateLoop() *EventBuilder { b.actions.TerminateLoop = true; return b }

// Error attaches an error code and message.
func (b *EventBuilder) Error(code, msg string) *EventBuilder {
	b.errCode, b.errMsg = code, msg
	return b
}

// Metadata sets a custom metadata entry.
func (b *EventBuilder) Metadata(key, val string) *EventBuilder {
	if b.metadata == nil {
		b.metadata = map[string]string{}
	}
	b.metadata[key] = val
	return b
}

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.invocationID, b.author)
	if b.id != "" {
		ev.ID = b.id
	}
	ev.Branch = b.branch
	ev.Partial = b.partial
	ev.TurnComplete = b.turnComplete
	ev.Actions = b.actions
	ev.CustomMetadata = b.metadata
	if b.errCode != "" {
		ev.Error = &core.EventError{Code: b.errCode, Message: b.errMsg}
	}

	parts := make([]core.Part, 0, len(b.textParts)+len(b.funcCalls)+len(b.funcResponses))
	for _, t := range b.textParts {
		parts = append(parts, core.TextPart{Text: t})
	}
	for _, fc := range b.funcCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	for _, fr := range b.funcResponses {
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
	}
	if len(parts) > 0 {
		ev.Content = &core.Content{Role: b.role, Parts: parts}
	}
	return ev
}
