package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
)

// script produces a child's events; emit reports whether the event was sent.
type script func(ictx *core.InvocationContext, emit func(core.Event) bool)

// MockAgent records Run calls by branch and plays a script.
type MockAgent struct {
	mock.Mock
	name   string
	script script
}

func NewMockAgent(name string, s script) *MockAgent {
	m := &MockAgent{name: name, script: s}
	m.On("Run", mock.Anything).Return()
	return m
}

func (m *MockAgent) Name() string            { return m.name }
func (m *MockAgent) Description() string     { return "mock agent " + m.name }
func (m *MockAgent) Kind() core.AgentKind    { return core.KindLlm }
func (m *MockAgent) SubAgents() []core.Agent { return nil }
func (m *MockAgent) Run(ictx *core.InvocationContext) <-chan core.Event {
	m.Called(ictx.Branch)
	return runStream(ictx, m.name, func(out chan<- core.Event) {
		if m.script != nil {
			m.script(ictx, func(ev core.Event) bool { return ictx.Emit(out, ev) })
		}
	})
}

func textEvent(ictx *core.InvocationContext, author, text string) core.Event {
	ev := ictx.NewEvent(author)
	ev.Content = core.NewTextContent(core.RoleAssistant, text)
	ev.TurnComplete = true
	return ev
}

// says emits one completed assistant turn per text.
func says(name string, texts ...string) script {
	return func(ictx *core.InvocationContext, emit func(core.Event) bool) {
		for _, text := range texts {
			if !emit(textEvent(ictx, name, text)) {
				return
			}
		}
	}
}

// signals emits a single event carrying actions.
func signals(name string, actions core.EventActions) script {
	return func(ictx *core.InvocationContext, emit func(core.Event) bool) {
		ev := textEvent(ictx, name, "signal")
		ev.Actions = actions
		emit(ev)
	}
}

func fails(name string) script {
	return func(ictx *core.InvocationContext, emit func(core.Event) bool) {
		emit(ictx.NewErrorEvent(name, core.CodeModelError, assert.AnError))
	}
}

func newInvocation(t *testing.T, cfg core.RunConfig) *core.InvocationContext {
	t.Helper()
	return core.NewInvocationContext(context.Background(), core.InvocationParams{
		Session:   core.NewSession("s1"),
		RunConfig: cfg,
	})
}

func collect(ictx *core.InvocationContext, a core.Agent) []core.Event {
	var events []core.Event
	for ev := range a.Run(ictx.WithBranch(a.Name())) {
		events = append(events, ev)
	}
	return events
}

func texts(events []core.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Text())
	}
	return out
}

func TestNewBaseAgent_Validation(t *testing.T) {
	a := NewMockAgent("a", nil)
	dup := NewMockAgent("a", nil)

	tests := []struct {
		name     string
		agent    string
		children []core.Agent
	}{
		{name: "empty name", agent: ""},
		{name: "duplicate children", agent: "parent", children: []core.Agent{a, dup}},
		{name: "nil child", agent: "parent", children: []core.Agent{nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBaseAgent(tt.agent, core.KindSequential, tt.children...)
			var ce *core.ConfigError
			require.ErrorAs(t, err, &ce)
		})
	}
}

func TestBaseAgent_Accessors(t *testing.T) {
	a := NewMockAgent("a", nil)
	b := NewMockAgent("b", nil)

	base, err := NewBaseAgent("parent", core.KindParallel, a, b)
	require.NoError(t, err)

	assert.Equal(t, "parent", base.Name())
	assert.Equal(t, "Agent parent", base.Description())
	assert.Equal(t, core.KindParallel, base.Kind())
	assert.Equal(t, []core.Agent{a, b}, base.SubAgents())

	base.SetDescription("fan-out")
	assert.Equal(t, "fan-out", base.Description())
}

func TestRunStream_RecoversPanic(t *testing.T) {
	boom := NewMockAgent("boom", func(*core.InvocationContext, func(core.Event) bool) {
		panic("kaboom")
	})
	ictx := newInvocation(t, core.RunConfig{})

	events := collect(ictx, boom)

	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, core.CodeAgentPanic, events[0].Error.Code)
	assert.Equal(t, "boom", events[0].Author)
	assert.Contains(t, events[0].Error.Message, "kaboom")
}

func TestWalkTree(t *testing.T) {
	a := NewMockAgent("a", nil)
	b := NewMockAgent("b", nil)
	par, err := NewParallelAgent("par", a, b)
	require.NoError(t, err)
	root, err := NewSequentialAgent("root", par)
	require.NoError(t, err)

	var names []string
	core.Walk(root, func(ag core.Agent, _ int) bool {
		names = append(names, ag.Name())
		return true
	})

	assert.Equal(t, []string{"root", "par", "a", "b"}, names)
	assert.Equal(t, b, core.FindAgent(root, "b"))
}
