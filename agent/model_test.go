package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/tool"
)

func TestNewLlmAgent_Defaults(t *testing.T) {
	m := model.NewScriptedModel("m")

	a, err := NewLlmAgent("helper", m)
	require.NoError(t, err)

	assert.Equal(t, "helper", a.Name())
	assert.Equal(t, core.KindLlm, a.Kind())
	assert.Empty(t, a.SubAgents())
	assert.Equal(t, m, a.Model())
	assert.Equal(t, 15*time.Second, a.ToolTimeout())
	assert.Equal(t, 20, a.MaxHistoryMessages())

	instr, err := a.ResolveInstruction(newInvocation(t, core.RunConfig{}))
	require.NoError(t, err)
	assert.Equal(t, "You are helper, a helpful AI assistant.", instr)
}

func TestNewLlmAgent_ConfigErrors(t *testing.T) {
	echo := tool.NewFunctionTool("echo", "Echo", nil, nil)

	tests := []struct {
		name  string
		model model.Model
		opts  func(o *LlmOptions)
	}{
		{name: "nil model"},
		{
			name:  "duplicate tools",
			model: model.NewScriptedModel("m"),
			opts:  func(o *LlmOptions) { o.Tools = []tool.Tool{echo, echo} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var optFns []func(o *LlmOptions)
			if tt.opts != nil {
				optFns = append(optFns, tt.opts)
			}
			_, err := NewLlmAgent("helper", tt.model, optFns...)

			var ce *core.ConfigError
			require.ErrorAs(t, err, &ce)
		})
	}
}

func TestLlmAgent_Run(t *testing.T) {
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{ID: "fc1", Name: "control", Arguments: `{"operation":"set_state","key":"mood","value":"happy"}`}),
		model.TextTurn("I am {{.mood}}"),
	)
	a, err := NewLlmAgent("helper", m, func(o *LlmOptions) {
		o.Description = "Keeps track of moods"
		o.Instruction = NewInstructionFromText("Mood: {{.mood}}")
		o.Tools = []tool.Tool{tool.NewControlTool()}
		o.OutputKey = "answer"
	})
	require.NoError(t, err)
	assert.Equal(t, "Keeps track of moods", a.Description())
	assert.True(t, a.HasTool("control"))

	ictx := newInvocation(t, core.RunConfig{})
	events := collect(ictx, a)

	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, "helper", ev.Author)
		assert.Equal(t, "helper", ev.Branch)
	}
	assert.True(t, events[2].TurnComplete)

	answer, ok := ictx.GetState("answer")
	require.True(t, ok)
	assert.Equal(t, "I am {{.mood}}", answer)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Mood: happy", reqs[1].Instructions)
}

func TestLlmAgent_ModelErrorBecomesEvent(t *testing.T) {
	m := model.NewScriptedModel("m", model.ErrorTurn(assert.AnError))
	a, err := NewLlmAgent("helper", m)
	require.NoError(t, err)

	events := collect(newInvocation(t, core.RunConfig{}), a)

	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, core.CodeModelError, events[0].Error.Code)
}
