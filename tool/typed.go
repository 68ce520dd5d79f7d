package tool

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/schema"
)

// NewTypedTool builds a FunctionTool whose schema is inferred from T. The
// validated argument map is decoded into T before fn runs.
//
//	type EchoArgs struct {
//	  Value int `json:"value" jsonschema:"value to echo back"`
//	}
//
//	echo, err := NewTypedTool("echo", "Echo a value", func(tc *core.ToolContext, in EchoArgs) (any, error) {
//	  return in.Value, nil
//	})
func NewTypedTool[T any](name, description string, fn func(toolCtx *core.ToolContext, args T) (any, error)) (*FunctionTool, error) {
	params, err := schema.Infer[T]()
	if err != nil {
		return nil, core.NewConfigError("tool "+name, "%v", err)
	}

	return NewFunctionTool(name, description, params, func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
		var in T
		if err := decodeArgs(args, &in); err != nil {
			return nil, &core.ToolValidationError{Tool: name, Message: err.Error()}
		}
		return fn(toolCtx, in)
	}), nil
}

func decodeArgs(args map[string]any, dst any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
