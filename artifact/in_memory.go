package artifact

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/agenttree/core"
)

type entry struct {
	data    []byte
	version int
}

// InMemoryStore is an in-process core.ArtifactStore for tests, examples and
// single-process setups. Data is copied on save and retrieval.
//
// Layout: sessionID -> artifactID -> latest version
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string]entry
	versions  map[string]map[string]int // survives Delete so versions never repeat
}

var _ core.ArtifactStore = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		artifacts: make(map[string]map[string]entry),
		versions:  make(map[string]map[string]int),
	}
}

// Save stores a new version of the artifact and returns its number.
func (a *InMemoryStore) Save(ctx context.Context, sessionID, artifactID string, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.artifacts[sessionID]; !ok {
		a.artifacts[sessionID] = make(map[string]entry)
		a.versions[sessionID] = make(map[string]int)
	}
	v := a.versions[sessionID][artifactID] + 1
	a.versions[sessionID][artifactID] = v
	a.artifacts[sessionID][artifactID] = entry{data: append([]byte(nil), data...), version: v}
	return v, nil
}

// Get returns a copy of the latest artifact bytes or ErrNotFound.
func (a *InMemoryStore) Get(ctx context.Context, sessionID, artifactID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.artifacts[sessionID][artifactID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

// List returns the sorted artifact ids stored for the session.
func (a *InMemoryStore) List(ctx context.Context, sessionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	m := a.artifacts[sessionID]
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the artifact or returns ErrNotFound.
func (a *InMemoryStore) Delete(ctx context.Context, sessionID, artifactID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.artifacts[sessionID][artifactID]; !ok {
		return ErrNotFound
	}
	delete(a.artifacts[sessionID], artifactID)
	return nil
}
