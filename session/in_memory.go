package session

import (
	"context"
	"sync"

	"github.com/hupe1980/agenttree/core"
)

// InMemoryStore is a volatile core.SessionStore keeping sessions in a process
// local map. It is safe for concurrent access and suited for tests or
// ephemeral demo runs. Returned sessions are clones.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Create returns the session with the given id, creating it when absent.
// An existing session is never overwritten.
func (s *InMemoryStore) Create(ctx context.Context, id string) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = core.NewSession(id)
		s.sessions[id] = sess
	}
	return sess.Clone(), nil
}

// Get returns a clone of the session or core.ErrSessionNotFound.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Append adds an event to the end of the session history.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, ev core.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.AddEvent(ev)
}

// History returns the stored events of a session in append order.
func (s *InMemoryStore) History(ctx context.Context, sessionID string) ([]core.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.GetEvents(), nil
}

// ApplyDelta merges delta into the session state.
func (s *InMemoryStore) ApplyDelta(ctx context.Context, sessionID string, delta map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.ApplyStateDelta(delta)
	return nil
}

// Delete removes a session. Unknown ids are ignored.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *InMemoryStore) lookup(id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess, nil
}
