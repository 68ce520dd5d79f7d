package agent

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
)

// terminatesOn emits a TerminateLoop signal on the n-th run and plain text before.
func terminatesOn(name string, n int32, runs *atomic.Int32) script {
	return func(ictx *core.InvocationContext, emit func(core.Event) bool) {
		if runs.Add(1) >= n {
			signals(name, core.EventActions{TerminateLoop: true})(ictx, emit)
			return
		}
		emit(textEvent(ictx, name, "working"))
	}
}

func TestNewLoopAgent_RejectsNonPositiveMax(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := NewLoopAgent("loop", []core.Agent{NewMockAgent("a", nil)}, WithMaxIters(n))

		var ce *core.ConfigError
		require.ErrorAs(t, err, &ce)
	}
}

func TestLoopAgent_RunsExactlyMaxIterations(t *testing.T) {
	a := NewMockAgent("a", says("a", "tick"))
	loop, err := NewLoopAgent("loop", []core.Agent{a}, WithMaxIters(3))
	require.NoError(t, err)

	events := collect(newInvocation(t, core.RunConfig{}), loop)

	require.Len(t, events, 4)
	a.AssertNumberOfCalls(t, "Run", 3)

	last := events[3]
	assert.Equal(t, "loop", last.Author)
	assert.True(t, last.TurnComplete)
	assert.Equal(t, "3", last.CustomMetadata[MetadataLoopIterations])
}

func TestLoopAgent_DefaultsToRunConfig(t *testing.T) {
	a := NewMockAgent("a", says("a", "tick"))
	loop, err := NewLoopAgent("loop", []core.Agent{a})
	require.NoError(t, err)

	events := collect(newInvocation(t, core.RunConfig{MaxLoopIterations: 2}), loop)

	a.AssertNumberOfCalls(t, "Run", 2)
	assert.Equal(t, "2", events[len(events)-1].CustomMetadata[MetadataLoopIterations])
}

func TestLoopAgent_TerminateLoop(t *testing.T) {
	var runs atomic.Int32
	a := NewMockAgent("a", terminatesOn("a", 2, &runs))
	b := NewMockAgent("b", says("b", "after a"))
	loop, err := NewLoopAgent("loop", []core.Agent{a, b}, WithMaxIters(5))
	require.NoError(t, err)

	events := collect(newInvocation(t, core.RunConfig{}), loop)

	// iteration 1: a, b; iteration 2: a terminates before b runs
	assert.Equal(t, []string{"working", "after a", "signal"}, texts(events))
	a.AssertNumberOfCalls(t, "Run", 2)
	b.AssertNumberOfCalls(t, "Run", 1)
	for _, ev := range events {
		assert.Empty(t, ev.CustomMetadata[MetadataLoopIterations])
	}
}

func TestLoopAgent_InnermostLoopConsumesTermination(t *testing.T) {
	var runs atomic.Int32
	worker := NewMockAgent("worker", terminatesOn("worker", 1, &runs))
	inner, err := NewLoopAgent("inner", []core.Agent{worker}, WithMaxIters(5))
	require.NoError(t, err)
	outer, err := NewLoopAgent("outer", []core.Agent{inner}, WithMaxIters(2))
	require.NoError(t, err)

	ictx := newInvocation(t, core.RunConfig{})
	events := collect(ictx, outer)

	worker.AssertNumberOfCalls(t, "Run", 2)
	require.Len(t, events, 3)
	assert.True(t, ictx.TerminationClaimed(events[0].ID))
	assert.Equal(t, "outer", events[2].Author)
	assert.Equal(t, "2", events[2].CustomMetadata[MetadataLoopIterations])
}

func TestLoopAgent_TerminationThroughSequential(t *testing.T) {
	var runs atomic.Int32
	a := NewMockAgent("a", terminatesOn("a", 1, &runs))
	b := NewMockAgent("b", says("b", "never"))
	seq, err := NewSequentialAgent("steps", a, b)
	require.NoError(t, err)
	loop, err := NewLoopAgent("loop", []core.Agent{seq}, WithMaxIters(3))
	require.NoError(t, err)

	events := collect(newInvocation(t, core.RunConfig{}), loop)

	require.Len(t, events, 1)
	assert.True(t, events[0].Actions.TerminateLoop)
	assert.Equal(t, "loop.steps.a", events[0].Branch)
	b.AssertNotCalled(t, "Run", "loop.steps.b")
}

func TestLoopAgent_EscalateEndsLoop(t *testing.T) {
	a := NewMockAgent("a", signals("a", core.EventActions{Escalate: true}))
	loop, err := NewLoopAgent("loop", []core.Agent{a}, WithMaxIters(3))
	require.NoError(t, err)

	events := collect(newInvocation(t, core.RunConfig{}), loop)

	require.Len(t, events, 1)
	assert.True(t, events[0].Actions.Escalate)
	a.AssertNumberOfCalls(t, "Run", 1)
}

func TestLoopAgent_ErrorEndsLoop(t *testing.T) {
	a := NewMockAgent("a", fails("a"))
	loop, err := NewLoopAgent("loop", []core.Agent{a}, WithMaxIters(3))
	require.NoError(t, err)

	events := collect(newInvocation(t, core.RunConfig{}), loop)

	require.Len(t, events, 1)
	assert.True(t, events[0].IsError())
}

func TestLoopAgent_Predicate(t *testing.T) {
	var runs atomic.Int32
	a := NewMockAgent("a", func(ictx *core.InvocationContext, emit func(core.Event) bool) {
		if runs.Add(1) == 2 {
			emit(textEvent(ictx, "a", "COMPLETE"))
			return
		}
		emit(textEvent(ictx, "a", "pending"))
	})
	loop, err := NewLoopAgent("loop", []core.Agent{a}, WithMaxIters(5), WithPredicate(func(s string) bool {
		return strings.Contains(s, "COMPLETE")
	}))
	require.NoError(t, err)

	events := collect(newInvocation(t, core.RunConfig{}), loop)

	assert.Equal(t, []string{"pending", "COMPLETE"}, texts(events))
}

func TestLoopAgent_EndInvocation(t *testing.T) {
	a := NewMockAgent("a", signals("a", core.EventActions{EndInvocation: true}))
	loop, err := NewLoopAgent("loop", []core.Agent{a}, WithMaxIters(3))
	require.NoError(t, err)

	events := collect(newInvocation(t, core.RunConfig{}), loop)

	require.Len(t, events, 1)
	a.AssertNumberOfCalls(t, "Run", 1)
}
