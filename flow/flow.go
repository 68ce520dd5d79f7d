// Package flow implements the tool-calling loop executed by leaf agents.
//
// A Flow composes a model request through an ordered list of request
// processors, calls the model (with retries for transient failures), emits the
// model turn and, when the turn requests function calls, executes the tools
// and feeds their results into the next request. The loop ends on a turn
// without function calls, a control signal raised by a tool, cancellation or an
// exhausted round-trip budget.
package flow

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/tool"
)

// FlowAgent is the view of a leaf agent the flow needs.
type FlowAgent interface {
	// Name returns the agent's name, used as event author.
	Name() string

	// Model returns the language model driving the agent.
	Model() model.Model

	// ResolveInstruction returns the raw instruction template.
	ResolveInstruction(ictx *core.InvocationContext) (string, error)

	// Tools returns the tools offered to the model, in declaration order.
	Tools() []tool.Tool

	// MaxHistoryMessages bounds the conversation sent to the model. Zero keeps everything.
	MaxHistoryMessages() int

	// ToolTimeout bounds a single tool call. Zero disables it.
	ToolTimeout() time.Duration

	// OutputKey names the state key receiving the final text, if any.
	OutputKey() string
}

// RequestProcessor contributes to a model request before it is sent.
type RequestProcessor interface {
	Name() string
	ProcessRequest(ictx *core.InvocationContext, req *model.Request, agent FlowAgent) error
}

// Options configures a Flow.
type Options struct {
	// RequestProcessors run in order on every round trip.
	RequestProcessors []RequestProcessor
	// Executor runs the function calls of one model turn.
	Executor FunctionExecutor
}

// Flow drives the request -> model -> tools cycle of one leaf agent.
type Flow struct {
	opts Options
}

// New creates a Flow with the default processors (instructions, contents,
// tools) and the parallel function executor.
func New(optFns ...func(o *Options)) *Flow {
	opts := Options{
		RequestProcessors: DefaultRequestProcessors(),
		Executor:          NewParallelFunctionExecutor(FunctionExecutorConfig{}),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Flow{opts: opts}
}

// Run executes the tool-calling loop for agent, emitting events on out. It
// returns when the loop has finished; out is not closed.
func (f *Flow) Run(ictx *core.InvocationContext, agent FlowAgent, out chan<- core.Event) {
	limiter := core.NewRoundTripLimiter(ictx.RunConfig().MaxRoundTrips)

	for {
		if ictx.Stopped() {
			return
		}

		if err := limiter.Increment(); err != nil {
			ictx.Logger.Warn("flow.round_trips.exhausted", "agent", agent.Name(), "limit", ictx.RunConfig().MaxRoundTrips)
			ictx.Emit(out, ictx.NewErrorEvent(agent.Name(), core.CodeMaxRoundTrips, err))
			return
		}

		req, err := f.buildRequest(ictx, agent)
		if err != nil {
			ictx.Emit(out, ictx.NewErrorEvent(agent.Name(), core.CodeAgentError, err))
			return
		}

		resp, ok := f.callModel(ictx, agent, req, out)
		if !ok {
			return
		}

		ev := ictx.NewEvent(agent.Name())
		content := resp.Content
		if content.Role == "" {
			content.Role = core.RoleAssistant
		}
		ev.Content = &content

		calls := content.FunctionCalls()
		if len(calls) == 0 {
			ev.TurnComplete = true
			if key := agent.OutputKey(); key != "" {
				if text := content.Text(); text != "" {
					ev.Actions.StateDelta = map[string]any{key: text}
				}
			}
		}
		if resp.Usage != nil {
			ev.CustomMetadata = map[string]string{
				"usage.prompt_tokens":     strconv.Itoa(resp.Usage.PromptTokens),
				"usage.completion_tokens": strconv.Itoa(resp.Usage.CompletionTokens),
			}
		}

		if !ictx.Emit(out, ev) || len(calls) == 0 {
			return
		}

		results := f.opts.Executor.Execute(ictx, agent, calls)
		if ictx.Stopped() {
			return
		}

		var actions core.EventActions
		for _, res := range results {
			if !ictx.Emit(out, res) {
				return
			}
			actions.Merge(res.Actions)
		}

		if actions.Escalate || actions.TerminateLoop || actions.EndInvocation {
			ictx.Logger.Debug("flow.control.stop", "agent", agent.Name(),
				"escalate", actions.Escalate, "terminate_loop", actions.TerminateLoop, "end_invocation", actions.EndInvocation)
			return
		}
	}
}

func (f *Flow) buildRequest(ictx *core.InvocationContext, agent FlowAgent) (model.Request, error) {
	req := model.Request{Stream: ictx.RunConfig().Streaming}
	for _, p := range f.opts.RequestProcessors {
		if err := p.ProcessRequest(ictx, &req, agent); err != nil {
			return model.Request{}, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}
	return req, nil
}
