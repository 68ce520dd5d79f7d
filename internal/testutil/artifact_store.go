package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
)

// RunArtifactStoreContract exercises the behavior every core.ArtifactStore
// must share. notFound is the sentinel the store returns for missing
// artifacts.
func RunArtifactStoreContract(t *testing.T, newStore func(t *testing.T) core.ArtifactStore, notFound error) {
	t.Helper()

	t.Run("VersionsIncrease", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		v1, err := store.Save(ctx, "s1", "report.txt", []byte("draft"))
		require.NoError(t, err)
		v2, err := store.Save(ctx, "s1", "report.txt", []byte("final"))
		require.NoError(t, err)
		assert.Equal(t, 1, v1)
		assert.Equal(t, 2, v2)

		data, err := store.Get(ctx, "s1", "report.txt")
		require.NoError(t, err)
		assert.Equal(t, "final", string(data))
	})

	t.Run("SaveCopiesInput", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		data := []byte("hello")
		_, err := store.Save(ctx, "s1", "a", data)
		require.NoError(t, err)
		data[0] = 'H'

		got, err := store.Get(ctx, "s1", "a")
		require.NoError(t, err)
		assert.Equal(t, "hello", string(got))
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), "s1", "missing")
		assert.ErrorIs(t, err, notFound)
	})

	t.Run("ListIsScopedBySession", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, id := range []string{"b", "a"} {
			_, err := store.Save(ctx, "s1", id, []byte(id))
			require.NoError(t, err)
		}
		_, err := store.Save(ctx, "s2", "c", []byte("c"))
		require.NoError(t, err)

		ids, err := store.List(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids)

		empty, err := store.List(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		_, err := store.Save(ctx, "s1", "a", []byte("1"))
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "s1", "a"))

		_, err = store.Get(ctx, "s1", "a")
		assert.ErrorIs(t, err, notFound)
		assert.ErrorIs(t, store.Delete(ctx, "s1", "a"), notFound)
	})
}
