package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
)

// ContractOption adjusts RunSessionStoreContract to a backend.
type ContractOption func(o *contractOptions)

type contractOptions struct {
	encodesJSON bool
}

// EncodesJSON marks a backend that persists events and state as JSON. Dynamic
// values (tool results, state) then come back decoded: numbers as float64,
// arrays as []any and objects as map[string]any.
func EncodesJSON() ContractOption {
	return func(o *contractOptions) { o.encodesJSON = true }
}

// RunSessionStoreContract exercises the behavior every core.SessionStore
// must share. newStore is called once per subtest and must return an empty
// store.
func RunSessionStoreContract(t *testing.T, newStore func(t *testing.T) core.SessionStore, optFns ...ContractOption) {
	t.Helper()

	var opts contractOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	t.Run("GetUnknown", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("CreateThenGet", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		created, err := store.Create(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", created.ID)
		assert.Empty(t, created.Events)

		got, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", got.ID)
		assert.Empty(t, got.State)
	})

	t.Run("CreateIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		_, err := store.Create(ctx, "s1")
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, "s1", NewEventBuilder().UserText("hi").Build()))

		again, err := store.Create(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, again.Events, 1)
	})

	t.Run("AppendPreservesOrder", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		_, err := store.Create(ctx, "s1")
		require.NoError(t, err)

		var want []string
		for i := 0; i < 5; i++ {
			ev := NewEventBuilder().
				Author("greeter").
				Invocation("inv-1").
				Branch("root.greeter").
				AssistantText(fmt.Sprintf("msg-%d", i)).
				Build()
			want = append(want, ev.ID)
			require.NoError(t, store.Append(ctx, "s1", ev))
		}

		history, err := store.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, history, 5)
		for i, ev := range history {
			assert.Equal(t, want[i], ev.ID)
			assert.Equal(t, fmt.Sprintf("msg-%d", i), ev.Text())
			assert.Equal(t, "greeter", ev.Author)
			assert.Equal(t, "root.greeter", ev.Branch)
			assert.Equal(t, "inv-1", ev.InvocationID)
		}

		sess, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, sess.Events, 5)
	})

	t.Run("RejectsDuplicateEvent", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		_, err := store.Create(ctx, "s1")
		require.NoError(t, err)

		ev := NewEventBuilder().UserText("once").Build()
		require.NoError(t, store.Append(ctx, "s1", ev))
		assert.ErrorIs(t, store.Append(ctx, "s1", ev), core.ErrDuplicateEvent)

		history, err := store.History(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("SameEventIDInOtherSession", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		for _, id := range []string{"a", "b"} {
			_, err := store.Create(ctx, id)
			require.NoError(t, err)
		}

		ev := NewEventBuilder().ID("shared").UserText("x").Build()
		require.NoError(t, store.Append(ctx, "a", ev))
		require.NoError(t, store.Append(ctx, "b", ev))

		historyA, err := store.History(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, historyA, 1)
	})

	t.Run("AppendUnknownSession", func(t *testing.T) {
		store := newStore(t)
		err := store.Append(context.Background(), "missing", NewEventBuilder().UserText("x").Build())
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("RoundTripsStructuredContent", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		_, err := store.Create(ctx, "s1")
		require.NoError(t, err)

		call := NewEventBuilder().FunctionCall("c1", "echo", `{"text":"1"}`).Build()
		result := NewEventBuilder().
			FunctionResponse("c1", "echo", "1", nil).
			StateDelta("last", "1").
			Metadata("usage.prompt_tokens", "12").
			Build()
		failure := NewEventBuilder().Error(core.CodeModelError, "boom").Build()
		require.NoError(t, store.Append(ctx, "s1", call))
		require.NoError(t, store.Append(ctx, "s1", result))
		require.NoError(t, store.Append(ctx, "s1", failure))

		history, err := store.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, history, 3)

		calls := history[0].GetFunctionCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "echo", calls[0].Name)
		assert.JSONEq(t, `{"text":"1"}`, calls[0].Arguments)

		responses := history[1].GetFunctionResponses()
		require.Len(t, responses, 1)
		assert.Equal(t, "1", responses[0].Response)
		assert.Equal(t, "1", history[1].Actions.StateDelta["last"])
		assert.Equal(t, "12", history[1].CustomMetadata["usage.prompt_tokens"])

		require.NotNil(t, history[2].Error)
		assert.Equal(t, core.CodeModelError, history[2].Error.Code)
	})

	t.Run("DynamicValueShape", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		_, err := store.Create(ctx, "s1")
		require.NoError(t, err)

		result := NewEventBuilder().FunctionResponse("c1", "echo", 1, nil).Build()
		require.NoError(t, store.Append(ctx, "s1", result))
		require.NoError(t, store.ApplyDelta(ctx, "s1", map[string]any{"count": 2, "tags": []string{"a"}}))

		history, err := store.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		responses := history[0].GetFunctionResponses()
		require.Len(t, responses, 1)

		sess, err := store.Get(ctx, "s1")
		require.NoError(t, err)

		if opts.encodesJSON {
			assert.Equal(t, float64(1), responses[0].Response)
			assert.Equal(t, float64(2), sess.State["count"])
			assert.Equal(t, []any{"a"}, sess.State["tags"])
		} else {
			assert.Equal(t, 1, responses[0].Response)
			assert.Equal(t, 2, sess.State["count"])
			assert.Equal(t, []string{"a"}, sess.State["tags"])
		}
		assert.EqualValues(t, 1, responses[0].Response)
	})

	t.Run("ApplyDelta", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		_, err := store.Create(ctx, "s1")
		require.NoError(t, err)

		require.NoError(t, store.ApplyDelta(ctx, "s1", map[string]any{"city": "Berlin", "unit": "C"}))
		require.NoError(t, store.ApplyDelta(ctx, "s1", map[string]any{"city": "Paris"}))

		sess, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "Paris", sess.State["city"])
		assert.Equal(t, "C", sess.State["unit"])
	})

	t.Run("ApplyDeltaUnknownSession", func(t *testing.T) {
		store := newStore(t)
		err := store.ApplyDelta(context.Background(), "missing", map[string]any{"k": "v"})
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("HistoryUnknownSession", func(t *testing.T) {
		store := newStore(t)
		_, err := store.History(context.Background(), "missing")
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})
}
