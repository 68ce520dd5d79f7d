package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/metrics"
	"github.com/hupe1980/agenttree/observer"
	"github.com/hupe1980/agenttree/tool"
)

var errToolNotFound = errors.New("tool not found")

// FunctionExecutor executes the function calls of one model turn and returns
// one result event per call, in call order. Implementations must:
//   - respect ictx cancellation
//   - never panic (recover and report a ToolExecutionError)
//   - merge the ToolContext's accumulated actions into the result event
type FunctionExecutor interface {
	Execute(ictx *core.InvocationContext, agent FlowAgent, calls []core.FunctionCall) []core.Event
}

// FunctionExecutorConfig configures the default parallel executor.
type FunctionExecutorConfig struct {
	MaxParallel    int  // 0 => RunConfig.MaxToolConcurrency
	LogStartEvents bool // log a start line per function
}

type parallelFunctionExecutor struct {
	cfg FunctionExecutorConfig
}

// NewParallelFunctionExecutor constructs a new executor with the given config.
func NewParallelFunctionExecutor(cfg FunctionExecutorConfig) FunctionExecutor {
	return &parallelFunctionExecutor{cfg: cfg}
}

// toolCall is the transient record of one function call.
type toolCall struct {
	ID       string
	Name     string
	RawArgs  string
	Args     map[string]any
	Result   any
	Err      error
	Attempts int
	Actions  core.EventActions
	Duration time.Duration
}

func (e *parallelFunctionExecutor) Execute(ictx *core.InvocationContext, agent FlowAgent, calls []core.FunctionCall) []core.Event {
	n := len(calls)
	if n == 0 {
		return nil
	}

	registry := make(map[string]tool.Tool, len(agent.Tools()))
	for _, t := range agent.Tools() {
		registry[t.Name()] = t
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 {
		maxPar = ictx.RunConfig().MaxToolConcurrency
	}
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	records := make([]*toolCall, n)
	batchStart := time.Now()

	if n == 1 {
		records[0] = e.executeOne(ictx, agent, registry, calls[0])
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, maxPar)

		for i := range calls {
			if ictx.Stopped() {
				break
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(idx int, fc core.FunctionCall) {
				defer wg.Done()
				defer func() { <-sem }()
				if ictx.Stopped() {
					return
				}
				records[idx] = e.executeOne(ictx, agent, registry, fc)
			}(i, calls[i])
		}
		wg.Wait()
	}

	ictx.Logger.Debug("agent.functions.batch.complete",
		"agent", agent.Name(),
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	events := make([]core.Event, 0, n)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		events = append(events, resultEvent(ictx, agent, rec))
	}
	return events
}

func (e *parallelFunctionExecutor) executeOne(ictx *core.InvocationContext, agent FlowAgent, registry map[string]tool.Tool, fc core.FunctionCall) *toolCall {
	rec := &toolCall{ID: fc.ID, Name: fc.Name, RawArgs: fc.Arguments}

	ctx := ictx.Context()
	if d := agent.ToolTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	ctx, span := observer.StartSpan(ctx, observer.SpanToolCall,
		observer.AttrAgent.String(agent.Name()),
		observer.AttrTool.String(fc.Name),
		observer.AttrBranch.String(ictx.Branch),
	)

	if e.cfg.LogStartEvents {
		ictx.Logger.Info("agent.function.start", "agent", agent.Name(), "function", fc.Name, "function_call_id", fc.ID)
	}

	toolCtx := core.NewToolContext(ctx, ictx, agent.Name(), fc.ID)
	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				rec.Err = &core.ToolExecutionError{Tool: fc.Name, Err: fmt.Errorf("panic: %v", r)}
				ictx.Logger.Error("agent.function.panic", "agent", agent.Name(), "function", fc.Name, "recover", r, "stack", string(debug.Stack()))
			}
		}()
		rec.Result, rec.Err = invoke(registry, toolCtx, rec)
	}()
	rec.Duration = time.Since(start)
	rec.Actions = toolCtx.Actions()

	if rec.Err == nil && ctx.Err() != nil && !ictx.Stopped() {
		rec.Err = &core.ToolExecutionError{Tool: fc.Name, Err: ctx.Err()}
	}

	observer.EndSpan(span, rec.Err)
	metrics.RecordToolCall(fc.Name, toolOutcome(rec.Err))
	ictx.Logger.Info("agent.function.executed",
		"agent", agent.Name(),
		"function", fc.Name,
		"duration_ms", rec.Duration.Milliseconds(),
		"error", rec.Err != nil,
	)

	return rec
}

// invoke resolves the tool, decodes and validates the arguments, and calls it.
func invoke(registry map[string]tool.Tool, toolCtx *core.ToolContext, rec *toolCall) (any, error) {
	impl, ok := registry[rec.Name]
	if !ok {
		return nil, &core.ToolExecutionError{Tool: rec.Name, Err: errToolNotFound}
	}

	args, attempts, err := decodeArguments(rec.RawArgs)
	rec.Attempts = attempts
	if err != nil {
		return nil, &core.ToolValidationError{Tool: rec.Name, Message: err.Error()}
	}
	rec.Args = args

	if v, ok := impl.(tool.Validator); ok {
		if err := v.ValidateArgs(args); err != nil {
			var ve *core.ToolValidationError
			if errors.As(err, &ve) {
				return nil, err
			}
			return nil, &core.ToolValidationError{Tool: rec.Name, Message: err.Error()}
		}
	}

	result, err := impl.Call(toolCtx, args)
	if err != nil {
		var (
			ve *core.ToolValidationError
			ee *core.ToolExecutionError
		)
		if errors.As(err, &ve) || errors.As(err, &ee) {
			return nil, err
		}
		return nil, &core.ToolExecutionError{Tool: rec.Name, Err: err}
	}
	return result, nil
}

// decodeArguments parses raw JSON arguments, repairing malformed JSON once.
// It returns the number of decode attempts made.
func decodeArguments(raw string) (map[string]any, int, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, 1, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		if args == nil {
			args = map[string]any{}
		}
		return args, 1, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, 2, fmt.Errorf("malformed arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, 2, fmt.Errorf("malformed arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, 2, nil
}

func resultEvent(ictx *core.InvocationContext, agent FlowAgent, rec *toolCall) core.Event {
	fr := core.FunctionResponse{ID: rec.ID, Name: rec.Name}
	if rec.Err != nil {
		fr.Error = rec.Err.Error()
	} else {
		fr.Response = rec.Result
	}

	ev := ictx.NewEvent(agent.Name())
	ev.Content = &core.Content{
		Role:  core.RoleTool,
		Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: fr}},
	}
	ev.Actions = rec.Actions
	if code := errorCode(rec.Err); code != "" {
		ev.CustomMetadata = map[string]string{"tool.error_code": code}
	}
	return ev
}

func errorCode(err error) string {
	var ve *core.ToolValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return core.CodeToolValidation
	default:
		return core.CodeToolExecution
	}
}

func toolOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeError
	}
}
