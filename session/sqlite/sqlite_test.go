package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Contract(t *testing.T) {
	testutil.RunSessionStoreContract(t, func(t *testing.T) core.SessionStore {
		return newTestStore(t)
	}, testutil.EncodesJSON())
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := New(ctx, path)
	require.NoError(t, err)
	_, err = store.Create(ctx, "s1")
	require.NoError(t, err)
	ev := testutil.NewEventBuilder().UserText("persisted").Build()
	require.NoError(t, store.Append(ctx, "s1", ev))
	require.NoError(t, store.ApplyDelta(ctx, "s1", map[string]any{"k": "v"}))
	require.NoError(t, store.Close())

	reopened, err := New(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	sess, err := reopened.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Events, 1)
	assert.Equal(t, ev.ID, sess.Events[0].ID)
	assert.Equal(t, "persisted", sess.Events[0].Text())
	assert.Equal(t, "v", sess.State["k"])
}
