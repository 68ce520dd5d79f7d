package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
)

func newToolContext(t *testing.T, callID string) *core.ToolContext {
	t.Helper()
	sess := core.NewSession("sess-1")
	sess.SetState("city", "Berlin")
	ic := core.NewInvocationContext(context.Background(), core.InvocationParams{Session: sess})
	return core.NewToolContext(context.Background(), ic, "agent", callID)
}

func sumParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
}

func TestFunctionTool_Success(t *testing.T) {
	sumTool := NewFunctionTool("sum", "Add numbers", sumParams(), func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sumTool.Call(newToolContext(t, "fc1"), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	called := false
	sumTool := NewFunctionTool("sum", "Add numbers", sumParams(), func(_ *core.ToolContext, _ map[string]any) (any, error) {
		called = true
		return 0, nil
	})

	_, err := sumTool.Call(newToolContext(t, "fc2"), map[string]any{"a": "two"})

	var ve *core.ToolValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "sum", ve.Tool)
	assert.False(t, called)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	execTool := NewFunctionTool("fail", "Fails", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := execTool.Call(newToolContext(t, "fc3"), map[string]any{})

	var ee *core.ToolExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "fail", ee.Tool)
	assert.EqualError(t, ee.Err, "boom")
}

type echoArgs struct {
	Value int `json:"value" jsonschema:"value to echo back"`
}

func TestTypedTool(t *testing.T) {
	echo, err := NewTypedTool("echo", "Echo a value", func(_ *core.ToolContext, in echoArgs) (any, error) {
		return in.Value, nil
	})
	require.NoError(t, err)

	props, ok := echo.Parameters()["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "value")

	out, err := echo.Call(newToolContext(t, "fc4"), map[string]any{"value": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, out)

	_, err = echo.Call(newToolContext(t, "fc5"), map[string]any{})
	var ve *core.ToolValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDefinitions(t *testing.T) {
	defs := Definitions([]Tool{NewControlTool(), NewFunctionTool("sum", "Add", sumParams(), nil)})
	require.Len(t, defs, 2)
	assert.Equal(t, "control", defs[0].Function.Name)
	assert.Equal(t, "function", defs[1].Type)
	assert.Equal(t, "sum", defs[1].Function.Name)
}

func TestControlTool_State(t *testing.T) {
	ct := NewControlTool()
	tc := newToolContext(t, "fc-state")

	res, err := ct.Call(tc, map[string]any{"operation": OpGetState, "key": "city"})
	require.NoError(t, err)
	assert.Equal(t, true, res.(map[string]any)["exists"])
	assert.Equal(t, "Berlin", res.(map[string]any)["value"])

	_, err = ct.Call(tc, map[string]any{"operation": OpSetState, "key": "city", "value": "Paris"})
	require.NoError(t, err)
	assert.Equal(t, "Paris", tc.Actions().StateDelta["city"])

	res, err = ct.Call(tc, map[string]any{"operation": OpGetState, "key": "city"})
	require.NoError(t, err)
	assert.Equal(t, "Paris", res.(map[string]any)["value"])
}

func TestControlTool_Signals(t *testing.T) {
	tests := []struct {
		op    string
		check func(a core.EventActions) bool
	}{
		{OpEscalate, func(a core.EventActions) bool { return a.Escalate }},
		{OpExitLoop, func(a core.EventActions) bool { return a.TerminateLoop }},
		{OpEndInvocation, func(a core.EventActions) bool { return a.EndInvocation }},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			tc := newToolContext(t, "fc-"+tt.op)
			res, err := NewControlTool().Call(tc, map[string]any{"operation": tt.op, "reason": "done"})
			require.NoError(t, err)
			assert.Equal(t, "done", res.(map[string]any)["reason"])
			assert.True(t, tt.check(tc.Actions()))
		})
	}
}

func TestControlTool_UnknownOperation(t *testing.T) {
	_, err := NewControlTool().Call(newToolContext(t, "fc-x"), map[string]any{"operation": "teleport"})
	var ve *core.ToolValidationError
	assert.ErrorAs(t, err, &ve)
}
