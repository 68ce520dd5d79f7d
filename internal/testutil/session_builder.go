package testutil

import (
	"context"
	"fmt"

	"github.com/hupe1980/agenttree/core"
)

// SessionBuilder assembles a prior conversation for tests: session state plus
// turns from earlier invocations. The result can back an InvocationContext
// directly (Params) or be written into any SessionStore (Seed).
//
//	params := NewSessionBuilder("s1").
//		State("topic", "weather").
//		UserTurn("hi").
//		AgentTurn("greeter", "hello").
//		Params()
type SessionBuilder struct {
	id     string
	state  map[string]any
	events []core.Event
	turns  int
}

// NewSessionBuilder creates a builder for the session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, state: map[string]any{}}
}

// State stages a state key on the session.
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

// UserTurn appends a user message that opens a new earlier invocation.
func (b *SessionBuilder) UserTurn(text string) *SessionBuilder {
	b.turns++
	return b.Event(NewEventBuilder().
		Author(core.AuthorUser).
		Invocation(b.invocationID()).
		UserText(text).
		TurnComplete().
		Build())
}

// AgentTurn appends a completed assistant reply to the current earlier invocation.
func (b *SessionBuilder) AgentTurn(author, text string) *SessionBuilder {
	return b.Event(NewEventBuilder().
		Author(author).
		Invocation(b.invocationID()).
		AssistantText(text).
		TurnComplete().
		Build())
}

// Event appends an arbitrary event.
func (b *SessionBuilder) Event(ev core.Event) *SessionBuilder {
	b.events = append(b.events, ev)
	return b
}

// Build returns the session. Events are added through Session.AddEvent, so a
// duplicated id panics instead of silently producing an impossible history.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	s.ApplyStateDelta(b.state)
	for _, ev := range b.events {
		if err := s.AddEvent(ev); err != nil {
			panic(fmt.Sprintf("testutil: session %s: %v", b.id, err))
		}
	}
	return s
}

// History returns the conversational events an invocation would load.
func (b *SessionBuilder) History() []core.Event {
	return core.ConversationHistory(b.events)
}

// Params returns invocation parameters backed by the built session and its
// history, as the runner would prepare them.
func (b *SessionBuilder) Params() core.InvocationParams {
	return core.InvocationParams{
		Session: b.Build(),
		History: b.History(),
	}
}

// Seed writes the session, its events and its state into store.
func (b *SessionBuilder) Seed(ctx context.Context, store core.SessionStore) error {
	if _, err := store.Create(ctx, b.id); err != nil {
		return err
	}
	for _, ev := range b.events {
		if err := store.Append(ctx, b.id, ev); err != nil {
			return err
		}
	}
	if len(b.state) == 0 {
		return nil
	}
	return store.ApplyDelta(ctx, b.id, b.state)
}

func (b *SessionBuilder) invocationID() string {
	return fmt.Sprintf("%s-inv-%d", b.id, max(b.turns, 1))
}
