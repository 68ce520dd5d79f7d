package tool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/schema"
)

// FunctionTool exposes a plain Go function as a tool.
//
// Arguments are validated against the declared schema before the function
// runs. Failures are normalized:
//
//	schema mismatch          -> *core.ToolValidationError
//	function returned error  -> *core.ToolExecutionError
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)

	compileOnce sync.Once
	validator   *schema.Validator
	compileErr  error
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// Name returns the tool name used in function declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// ValidateArgs checks args against the declared schema.
func (t *FunctionTool) ValidateArgs(args map[string]any) error {
	t.compileOnce.Do(func() {
		t.validator, t.compileErr = schema.Compile(t.parameters)
	})
	if t.compileErr != nil {
		return &core.ToolValidationError{Tool: t.name, Message: fmt.Sprintf("invalid schema: %v", t.compileErr)}
	}
	if err := t.validator.Validate(args); err != nil {
		return &core.ToolValidationError{Tool: t.name, Message: err.Error()}
	}
	return nil
}

// Call validates args then invokes the wrapped function.
//
// Logging fields: tool, fc_id, duration_ms.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "fc_id", toolCtx.FunctionCallID())

	if err := t.ValidateArgs(args); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return nil, err
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		var (
			ve *core.ToolValidationError
			ee *core.ToolExecutionError
		)
		if errors.As(err, &ve) || errors.As(err, &ee) {
			return nil, err
		}
		return nil, &core.ToolExecutionError{Tool: t.name, Err: err}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
