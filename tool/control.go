package tool

import (
	"fmt"

	"github.com/hupe1980/agenttree/core"
)

// Control operations understood by ControlTool.
const (
	OpGetState      = "get_state"
	OpSetState      = "set_state"
	OpEscalate      = "escalate"
	OpExitLoop      = "exit_loop"
	OpEndInvocation = "end_invocation"
)

// ControlTool lets a model read and write session state and steer the agent
// tree: escalate to the parent, leave the enclosing loop or end the whole
// invocation. Signals travel on the tool result event's actions.
type ControlTool struct {
	name        string
	description string
}

// NewControlTool creates a control tool named "control".
func NewControlTool() *ControlTool {
	return &ControlTool{
		name: "control",
		description: "Reads and writes session state and controls agent flow. " +
			"Operations: get_state, set_state, escalate, exit_loop, end_invocation.",
	}
}

// Name returns the tool identifier.
func (t *ControlTool) Name() string { return t.name }

// Description returns the tool description.
func (t *ControlTool) Description() string { return t.description }

// Parameters returns the JSON schema for tool parameters.
func (t *ControlTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{OpGetState, OpSetState, OpEscalate, OpExitLoop, OpEndInvocation},
				"description": "The control operation to perform",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "State key for get_state/set_state",
			},
			"value": map[string]any{
				"description": "Value for set_state (any type)",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "Optional reason recorded with escalate, exit_loop and end_invocation",
			},
		},
		"required": []string{"operation"},
	}
}

// Call implements Tool.
func (t *ControlTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	operation, _ := args["operation"].(string)

	switch operation {
	case OpGetState:
		return t.getState(toolCtx, args)
	case OpSetState:
		return t.setState(toolCtx, args)
	case OpEscalate:
		toolCtx.Escalate()
		return signalResult(operation, args), nil
	case OpExitLoop:
		toolCtx.TerminateLoop()
		return signalResult(operation, args), nil
	case OpEndInvocation:
		toolCtx.EndInvocation()
		return signalResult(operation, args), nil
	case "":
		return nil, &core.ToolValidationError{Tool: t.name, Message: "operation parameter is required"}
	default:
		return nil, &core.ToolValidationError{Tool: t.name, Message: fmt.Sprintf("unknown operation: %s", operation)}
	}
}

func (t *ControlTool) getState(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return nil, &core.ToolValidationError{Tool: t.name, Message: "key parameter is required for get_state"}
	}

	value, exists := toolCtx.GetState(key)

	return map[string]any{
		"key":    key,
		"exists": exists,
		"value":  value,
	}, nil
}

func (t *ControlTool) setState(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return nil, &core.ToolValidationError{Tool: t.name, Message: "key parameter is required for set_state"}
	}

	value := args["value"]
	toolCtx.SetState(key, value)

	return map[string]any{
		"key":     key,
		"value":   value,
		"success": true,
	}, nil
}

func signalResult(operation string, args map[string]any) map[string]any {
	out := map[string]any{"operation": operation, "success": true}
	if reason, ok := args["reason"].(string); ok && reason != "" {
		out["reason"] = reason
	}
	return out
}
