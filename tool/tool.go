// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities (APIs, computations, side effects) with
// schema validated arguments.
package tool

import (
	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/model"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools are registered with an LlmAgent and offered to the model as function
// declarations. Every call receives a ToolContext giving access to session
// state, control signals (escalate, exit loop, end invocation) and artifacts.
//
// Implementations must be safe for concurrent use: one model turn may request
// several calls that run in parallel.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// Validator is implemented by tools that check arguments before Call. The flow
// reports a failure as a validation error without invoking the tool.
type Validator interface {
	ValidateArgs(args map[string]any) error
}

// Definition converts t into the declaration sent to the model.
func Definition(t Tool) model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Definitions converts tools in order.
func Definitions(tools []Tool) []model.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		out[i] = Definition(t)
	}
	return out
}
