package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/testutil"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/tool"
)

type testAgent struct {
	name        string
	model       model.Model
	instruction string
	tools       []tool.Tool
	outputKey   string
	maxHistory  int
	toolTimeout time.Duration
}

func (a *testAgent) Name() string       { return a.name }
func (a *testAgent) Model() model.Model { return a.model }
func (a *testAgent) ResolveInstruction(*core.InvocationContext) (string, error) {
	return a.instruction, nil
}
func (a *testAgent) Tools() []tool.Tool         { return a.tools }
func (a *testAgent) MaxHistoryMessages() int    { return a.maxHistory }
func (a *testAgent) ToolTimeout() time.Duration { return a.toolTimeout }
func (a *testAgent) OutputKey() string          { return a.outputKey }

func newInvocation(t *testing.T, cfg core.RunConfig) *core.InvocationContext {
	t.Helper()
	sess := core.NewSession("s1")
	user := core.NewUserMessageEvent("", "hello")
	ictx := core.NewInvocationContext(context.Background(), core.InvocationParams{
		Session:   sess,
		History:   []core.Event{user},
		RunConfig: cfg,
	})
	ictx.Branch = "root"
	return ictx
}

func runFlow(ictx *core.InvocationContext, agent FlowAgent) []core.Event {
	out := make(chan core.Event, 256)
	New().Run(ictx, agent, out)
	close(out)

	var events []core.Event
	for ev := range out {
		events = append(events, ev)
	}
	return events
}

func fastRetries() core.RunConfig {
	return core.RunConfig{RetryBaseDelay: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func echoTool(calls *atomic.Int32) *tool.FunctionTool {
	return tool.NewFunctionTool("echo", "Echoes text", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		if calls != nil {
			calls.Add(1)
		}
		return args["text"], nil
	})
}

func functionResponse(t *testing.T, ev core.Event) core.FunctionResponse {
	t.Helper()
	resps := ev.GetFunctionResponses()
	require.Len(t, resps, 1)
	return resps[0]
}

func TestFlow_TextTurn(t *testing.T) {
	m := model.NewScriptedModel("m", model.TextTurn("hi there"))
	agent := &testAgent{name: "greeter", model: m, instruction: "Be nice.", outputKey: "greeting"}
	ictx := newInvocation(t, core.RunConfig{})

	events := runFlow(ictx, agent)

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "greeter", ev.Author)
	assert.Equal(t, "root", ev.Branch)
	assert.Equal(t, "hi there", ev.Text())
	assert.True(t, ev.TurnComplete)
	assert.False(t, ev.Partial)
	assert.Equal(t, "hi there", ev.Actions.StateDelta["greeting"])

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Be nice.", reqs[0].Instructions)
	require.Len(t, reqs[0].Contents, 1)
	assert.Equal(t, "hello", reqs[0].Contents[0].Text())
}

func TestFlow_ToolRoundTrip(t *testing.T) {
	var calls atomic.Int32
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{ID: "fc1", Name: "echo", Arguments: `{"text":"ping"}`}),
		model.TextTurn("done"),
	)
	agent := &testAgent{name: "worker", model: m, tools: []tool.Tool{echoTool(&calls)}}
	ictx := newInvocation(t, core.RunConfig{})

	events := runFlow(ictx, agent)

	require.Len(t, events, 3)
	assert.Len(t, events[0].GetFunctionCalls(), 1)
	assert.False(t, events[0].TurnComplete)

	resp := functionResponse(t, events[1])
	assert.Equal(t, core.RoleTool, events[1].Content.Role)
	assert.Equal(t, "fc1", resp.ID)
	assert.Equal(t, "ping", resp.Response)
	assert.Empty(t, resp.Error)

	assert.Equal(t, "done", events[2].Text())
	assert.True(t, events[2].TurnComplete)
	assert.Equal(t, int32(1), calls.Load())

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Contents, 3)
	assert.Equal(t, core.RoleTool, reqs[1].Contents[2].Role)
	require.Len(t, reqs[1].Tools, 1)
	assert.Equal(t, "echo", reqs[1].Tools[0].Function.Name)

	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

func TestFlow_MaxRoundTrips(t *testing.T) {
	var calls atomic.Int32
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{Name: "echo", Arguments: `{"text":"again"}`}),
	).RepeatLast()
	agent := &testAgent{name: "looper", model: m, tools: []tool.Tool{echoTool(&calls)}}
	ictx := newInvocation(t, core.RunConfig{MaxRoundTrips: 2})

	events := runFlow(ictx, agent)

	assert.Equal(t, 2, m.Calls())
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, events, 5)
	last := events[len(events)-1]
	require.NotNil(t, last.Error)
	assert.Equal(t, core.CodeMaxRoundTrips, last.Error.Code)
	assert.True(t, last.TurnComplete)
}

func TestFlow_RetriesTransientError(t *testing.T) {
	m := model.NewScriptedModel("m",
		model.ErrorTurn(&core.TransientProviderError{Provider: "scripted", StatusCode: 503, Err: errors.New("unavailable")}),
		model.TextTurn("recovered"),
	)
	agent := &testAgent{name: "a", model: m}
	ictx := newInvocation(t, fastRetries())

	events := runFlow(ictx, agent)

	assert.Equal(t, 2, m.Calls())
	assert.Equal(t, int64(2), ictx.ModelCalls())
	require.Len(t, events, 1)
	assert.Equal(t, "recovered", events[0].Text())
}

func TestFlow_TransientRetriesExhausted(t *testing.T) {
	cfg := fastRetries()
	cfg.MaxModelRetries = 2
	m := model.NewScriptedModel("m",
		model.ErrorTurn(&core.TransientProviderError{Provider: "scripted", StatusCode: 429, Err: errors.New("slow down")}),
	).RepeatLast()
	agent := &testAgent{name: "a", model: m}
	ictx := newInvocation(t, cfg)

	events := runFlow(ictx, agent)

	assert.Equal(t, 3, m.Calls())
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, core.CodeModelTransient, events[0].Error.Code)
}

func TestFlow_ProviderTimeoutIsRetried(t *testing.T) {
	m := model.NewScriptedModel("m",
		model.ErrorTurn(model.ClassifyError("scripted", context.DeadlineExceeded)),
		model.TextTurn("ok"),
	)
	agent := &testAgent{name: "a", model: m}
	ictx := newInvocation(t, fastRetries())

	events := runFlow(ictx, agent)

	assert.Equal(t, 2, m.Calls())
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Text())
}

func TestFlow_ProviderTimeoutRetriesExhausted(t *testing.T) {
	cfg := fastRetries()
	cfg.MaxModelRetries = 1
	m := model.NewScriptedModel("m",
		model.ErrorTurn(model.ClassifyError("scripted", context.DeadlineExceeded)),
	).RepeatLast()
	agent := &testAgent{name: "a", model: m}
	ictx := newInvocation(t, cfg)

	events := runFlow(ictx, agent)

	assert.Equal(t, 2, m.Calls())
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, core.CodeModelTransient, events[0].Error.Code)
}

func TestFlow_RetryAfterIsHonoured(t *testing.T) {
	m := model.NewScriptedModel("m",
		model.ErrorTurn(&core.TransientProviderError{Provider: "scripted", StatusCode: 429, RetryAfter: time.Millisecond, Err: errors.New("slow down")}),
		model.TextTurn("ok"),
	)
	agent := &testAgent{name: "a", model: m}
	ictx := newInvocation(t, fastRetries())

	events := runFlow(ictx, agent)

	assert.Equal(t, 2, m.Calls())
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Text())
}

func TestFlow_NonTransientErrorIsNotRetried(t *testing.T) {
	m := model.NewScriptedModel("m", model.ErrorTurn(errors.New("bad request")))
	agent := &testAgent{name: "a", model: m}
	ictx := newInvocation(t, fastRetries())

	events := runFlow(ictx, agent)

	assert.Equal(t, 1, m.Calls())
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, core.CodeModelError, events[0].Error.Code)
	assert.Contains(t, events[0].Error.Message, "bad request")
}

func TestFlow_StreamingPartials(t *testing.T) {
	m := model.NewScriptedModel("m", model.StreamTurn("Hel", "lo"))
	agent := &testAgent{name: "a", model: m}
	ictx := newInvocation(t, core.RunConfig{Streaming: true})

	events := runFlow(ictx, agent)

	require.Len(t, events, 3)
	assert.True(t, events[0].Partial)
	assert.Equal(t, "Hel", events[0].Text())
	assert.True(t, events[1].Partial)
	assert.False(t, events[2].Partial)
	assert.Equal(t, "Hello", events[2].Text())
	assert.True(t, m.Requests()[0].Stream)

	// partials never enter the invocation log
	assert.Len(t, ictx.Events(), 1)
}

func TestFlow_TransientAfterPartialsIsNotRetried(t *testing.T) {
	m := model.NewScriptedModel("m", model.Turn{
		Chunks: []string{"par"},
		Err:    &core.TransientProviderError{Provider: "scripted", Err: errors.New("connection reset")},
	}, model.TextTurn("never"))
	agent := &testAgent{name: "a", model: m}
	cfg := fastRetries()
	cfg.Streaming = true
	ictx := newInvocation(t, cfg)

	events := runFlow(ictx, agent)

	assert.Equal(t, 1, m.Calls())
	require.Len(t, events, 2)
	assert.True(t, events[0].Partial)
	require.NotNil(t, events[1].Error)
	assert.Equal(t, core.CodeModelTransient, events[1].Error.Code)
}

func TestFlow_ValidationErrorSkipsTool(t *testing.T) {
	var calls atomic.Int32
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{ID: "fc1", Name: "echo", Arguments: `{}`}),
		model.TextTurn("sorry"),
	)
	agent := &testAgent{name: "a", model: m, tools: []tool.Tool{echoTool(&calls)}}
	ictx := newInvocation(t, core.RunConfig{})

	events := runFlow(ictx, agent)

	require.Len(t, events, 3)
	resp := functionResponse(t, events[1])
	assert.NotEmpty(t, resp.Error)
	assert.Nil(t, resp.Response)
	assert.Equal(t, core.CodeToolValidation, events[1].CustomMetadata["tool.error_code"])
	assert.False(t, events[1].IsError())
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, "sorry", events[2].Text())
}

func TestFlow_RepairsMalformedArguments(t *testing.T) {
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{ID: "fc1", Name: "echo", Arguments: `{"text": "fixed"`}),
		model.TextTurn("done"),
	)
	agent := &testAgent{name: "a", model: m, tools: []tool.Tool{echoTool(nil)}}
	ictx := newInvocation(t, core.RunConfig{})

	events := runFlow(ictx, agent)

	require.Len(t, events, 3)
	resp := functionResponse(t, events[1])
	assert.Empty(t, resp.Error)
	assert.Equal(t, "fixed", resp.Response)
}

func TestFlow_UnknownTool(t *testing.T) {
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{ID: "fc1", Name: "missing"}),
		model.TextTurn("ok"),
	)
	agent := &testAgent{name: "a", model: m}
	ictx := newInvocation(t, core.RunConfig{})

	events := runFlow(ictx, agent)

	require.Len(t, events, 3)
	resp := functionResponse(t, events[1])
	assert.Contains(t, resp.Error, "tool not found")
	assert.Equal(t, core.CodeToolExecution, events[1].CustomMetadata["tool.error_code"])
}

func TestFlow_ToolPanicIsRecovered(t *testing.T) {
	boom := tool.NewFunctionTool("boom", "Panics", nil, func(*core.ToolContext, map[string]any) (any, error) {
		panic("kaboom")
	})
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{ID: "fc1", Name: "boom"}),
		model.TextTurn("ok"),
	)
	agent := &testAgent{name: "a", model: m, tools: []tool.Tool{boom}}
	ictx := newInvocation(t, core.RunConfig{})

	events := runFlow(ictx, agent)

	require.Len(t, events, 3)
	resp := functionResponse(t, events[1])
	assert.Contains(t, resp.Error, "panic: kaboom")
}

func TestFlow_ToolResultsKeepCallOrder(t *testing.T) {
	slow := tool.NewFunctionTool("slow", "Sleeps", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "slow", nil
	})
	fast := tool.NewFunctionTool("fast", "Returns immediately", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return "fast", nil
	})
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(
			core.FunctionCall{ID: "1", Name: "slow"},
			core.FunctionCall{ID: "2", Name: "fast"},
			core.FunctionCall{ID: "3", Name: "slow"},
		),
		model.TextTurn("ok"),
	)
	agent := &testAgent{name: "a", model: m, tools: []tool.Tool{slow, fast}}
	ictx := newInvocation(t, core.RunConfig{MaxToolConcurrency: 3})

	events := runFlow(ictx, agent)

	require.Len(t, events, 5)
	assert.Equal(t, "1", functionResponse(t, events[1]).ID)
	assert.Equal(t, "2", functionResponse(t, events[2]).ID)
	assert.Equal(t, "3", functionResponse(t, events[3]).ID)
}

func TestFlow_ToolTimeout(t *testing.T) {
	hang := tool.NewFunctionTool("hang", "Waits for cancellation", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		<-tc.Context().Done()
		return nil, tc.Context().Err()
	})
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{ID: "fc1", Name: "hang"}),
		model.TextTurn("ok"),
	)
	agent := &testAgent{name: "a", model: m, tools: []tool.Tool{hang}, toolTimeout: 10 * time.Millisecond}
	ictx := newInvocation(t, core.RunConfig{})

	events := runFlow(ictx, agent)

	require.Len(t, events, 3)
	assert.Contains(t, functionResponse(t, events[1]).Error, context.DeadlineExceeded.Error())
}

func TestFlow_ControlSignalEndsLoop(t *testing.T) {
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{ID: "fc1", Name: "control", Arguments: `{"operation":"exit_loop","reason":"done"}`}),
		model.TextTurn("unreachable"),
	)
	agent := &testAgent{name: "a", model: m, tools: []tool.Tool{tool.NewControlTool()}}
	ictx := newInvocation(t, core.RunConfig{})

	events := runFlow(ictx, agent)

	assert.Equal(t, 1, m.Calls())
	require.Len(t, events, 2)
	assert.True(t, events[1].Actions.TerminateLoop)
}

func TestFlow_StateDeltaFromTool(t *testing.T) {
	m := model.NewScriptedModel("m",
		model.ToolCallTurn(core.FunctionCall{ID: "fc1", Name: "control", Arguments: `{"operation":"set_state","key":"city","value":"Paris"}`}),
		model.TextTurn("saved"),
	)
	agent := &testAgent{name: "a", model: m, tools: []tool.Tool{tool.NewControlTool()}, instruction: "City: {{.city}}"}
	ictx := newInvocation(t, core.RunConfig{})

	events := runFlow(ictx, agent)

	require.Len(t, events, 3)
	assert.Equal(t, "Paris", events[1].Actions.StateDelta["city"])
	v, ok := ictx.GetState("city")
	require.True(t, ok)
	assert.Equal(t, "Paris", v)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "City: ", reqs[0].Instructions)
	assert.Equal(t, "City: Paris", reqs[1].Instructions)
}

func TestFlow_CancelledBeforeStart(t *testing.T) {
	m := model.NewScriptedModel("m", model.TextTurn("hi"))
	agent := &testAgent{name: "a", model: m}
	ictx := newInvocation(t, core.RunConfig{})
	ictx.Cancel()

	events := runFlow(ictx, agent)

	assert.Empty(t, events)
	assert.Equal(t, 0, m.Calls())
}

func TestFlow_MaxHistoryMessages(t *testing.T) {
	m := model.NewScriptedModel("m", model.TextTurn("ok"))
	agent := &testAgent{name: "a", model: m, maxHistory: 1}

	params := testutil.NewSessionBuilder("s1").
		UserTurn("first").
		AgentTurn("a", "reply").
		UserTurn("second").
		Params()
	ictx := core.NewInvocationContext(context.Background(), params)

	runFlow(ictx, agent)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Contents, 1)
	assert.Equal(t, "second", reqs[0].Contents[0].Text())
}

func TestFlow_SeesPriorTurns(t *testing.T) {
	m := model.NewScriptedModel("m", model.TextTurn("ok"))
	agent := &testAgent{name: "a", model: m}

	params := testutil.NewSessionBuilder("s1").
		UserTurn("first").
		AgentTurn("a", "reply").
		UserTurn("second").
		Params()
	ictx := core.NewInvocationContext(context.Background(), params)

	runFlow(ictx, agent)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	var texts []string
	for _, c := range reqs[0].Contents {
		texts = append(texts, c.Text())
	}
	assert.Equal(t, []string{"first", "reply", "second"}, texts)
}
