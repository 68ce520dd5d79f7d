package core

import (
	"context"
	"sync"
	"time"
)

// Session represents a conversational container tracking mutable key/value
// state plus an ordered event history. It is safe for concurrent access.
//
// Contract:
//   - AddEvent rejects events whose id is already present
//   - GetEvents returns a defensive copy to avoid external mutation
//   - GetConversationHistory excludes partial fragments and non-conversational roles
type Session struct {
	ID       string            `json:"id"`
	AppName  string            `json:"app_name,omitempty"`
	UserID   string            `json:"user_id,omitempty"`
	State    map[string]any    `json:"state"`
	Events   []Event           `json:"events"`
	Created  time.Time         `json:"created"`
	Updated  time.Time         `json:"updated"`
	Metadata map[string]string `json:"metadata,omitempty"`

	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewSession creates a new empty session with the given ID.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:       id,
		State:    map[string]any{},
		Events:   []Event{},
		Created:  now,
		Updated:  now,
		Metadata: map[string]string{},
	}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// SetState sets a key/value pair in session state.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State[key] = value
	s.Updated = time.Now().UTC()
}

// StateSnapshot returns a copy of the state map.
func (s *Session) StateSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.State))
	for k, v := range s.State {
		out[k] = v
	}
	return out
}

// ApplyStateDelta merges the provided key/value pairs into State.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.State[k] = v
	}
	s.Updated = time.Now().UTC()
}

// AddEvent appends an event to the history. It returns ErrDuplicateEvent when
// an event with the same id was already added.
func (s *Session) AddEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[string]struct{}, len(s.Events))
		for _, e := range s.Events {
			s.ids[e.ID] = struct{}{}
		}
	}
	if _, dup := s.ids[ev.ID]; dup {
		return ErrDuplicateEvent
	}
	s.ids[ev.ID] = struct{}{}
	s.Events = append(s.Events, ev)
	s.Updated = time.Now().UTC()
	return nil
}

// GetEvents returns a defensive copy of the full event slice.
func (s *Session) GetEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	return events
}

// GetConversationHistory returns events suitable for providing conversational
// context to models.
func (s *Session) GetConversationHistory() []Event {
	return ConversationHistory(s.GetEvents())
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:       s.ID,
		AppName:  s.AppName,
		UserID:   s.UserID,
		State:    make(map[string]any, len(s.State)),
		Events:   make([]Event, len(s.Events)),
		Created:  s.Created,
		Updated:  s.Updated,
		Metadata: make(map[string]string, len(s.Metadata)),
	}
	for k, v := range s.State {
		clone.State[k] = v
	}
	copy(clone.Events, s.Events)
	for k, v := range s.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// ConversationHistory filters events to user/assistant/tool content and drops
// partial fragments.
func ConversationHistory(events []Event) []Event {
	res := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Partial || ev.Content == nil {
			continue
		}
		switch ev.Content.Role {
		case RoleUser, RoleAssistant, RoleTool:
			res = append(res, ev)
		}
	}
	return res
}

// SessionStore persists sessions and their evolving state / event history.
// Append must preserve per-session order and reject an event id that is
// already stored with ErrDuplicateEvent. Get returns ErrSessionNotFound for
// unknown ids.
//
// Dynamic values (FunctionResponse.Response, state values, state deltas) are
// returned in the shape the backend stores them. Backends that persist JSON
// (sqlite, postgres, badger) decode numbers as float64, arrays as []any and
// objects as map[string]any; an int tool result of 1 reads back as 1.0. The
// in-memory store returns values unchanged. Compare numerically, or decode
// through encoding/json, when code must work against every backend.
type SessionStore interface {
	Create(ctx context.Context, id string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Append(ctx context.Context, sessionID string, ev Event) error
	History(ctx context.Context, sessionID string) ([]Event, error)
	ApplyDelta(ctx context.Context, sessionID string, delta map[string]any) error
}
