package agent

import (
	"fmt"
	"time"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/flow"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/tool"
)

// LlmOptions configures an LlmAgent instance.
//
// Use functional options with NewLlmAgent to override defaults.
type LlmOptions struct {
	Description        string
	Instruction        Instruction
	Tools              []tool.Tool
	ToolTimeout        time.Duration
	OutputKey          string
	MaxHistoryMessages int
	// Flow overrides the default tool-calling loop.
	Flow *flow.Flow
}

// LlmAgent is the leaf agent driving the model/tool loop.
//
// Each run composes a request from its instruction (rendered against session
// state), the conversation visible from its branch and its tool declarations,
// then calls the model until a turn without function calls is produced.
type LlmAgent struct {
	BaseAgent
	llm                model.Model
	instruction        Instruction
	tools              []tool.Tool
	toolTimeout        time.Duration
	outputKey          string
	maxHistoryMessages int
	flow               *flow.Flow
}

// NewLlmAgent creates a model-backed leaf agent.
//
// Defaults:
//   - instruction "You are <name>, a helpful AI assistant."
//   - 15-second timeout for tool calls
//   - 20-message conversation history limit
//
// A nil model or duplicate tool names yield a *core.ConfigError.
func NewLlmAgent(name string, llm model.Model, optFns ...func(o *LlmOptions)) (*LlmAgent, error) {
	opts := LlmOptions{
		Instruction:        NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		ToolTimeout:        15 * time.Second,
		MaxHistoryMessages: 20,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	base, err := NewBaseAgent(name, core.KindLlm)
	if err != nil {
		return nil, err
	}
	if llm == nil {
		return nil, core.NewConfigError(name, "model must not be nil")
	}

	seen := make(map[string]struct{}, len(opts.Tools))
	for _, t := range opts.Tools {
		if _, dup := seen[t.Name()]; dup {
			return nil, core.NewConfigError(name, "duplicate tool name %q", t.Name())
		}
		seen[t.Name()] = struct{}{}
	}

	if opts.Description != "" {
		base.SetDescription(opts.Description)
	}
	if opts.Flow == nil {
		opts.Flow = flow.New()
	}

	return &LlmAgent{
		BaseAgent:          base,
		llm:                llm,
		instruction:        opts.Instruction,
		tools:              append([]tool.Tool(nil), opts.Tools...),
		toolTimeout:        opts.ToolTimeout,
		outputKey:          opts.OutputKey,
		maxHistoryMessages: opts.MaxHistoryMessages,
		flow:               opts.Flow,
	}, nil
}

// Model returns the language model instance.
func (a *LlmAgent) Model() model.Model { return a.llm }

// Tools returns the registered tools in declaration order.
func (a *LlmAgent) Tools() []tool.Tool { return append([]tool.Tool(nil), a.tools...) }

// HasTool checks if a tool is registered with the agent.
func (a *LlmAgent) HasTool(name string) bool {
	for _, t := range a.tools {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// ToolTimeout returns the per-call tool timeout.
func (a *LlmAgent) ToolTimeout() time.Duration { return a.toolTimeout }

// OutputKey returns the session state key for saving responses.
func (a *LlmAgent) OutputKey() string { return a.outputKey }

// MaxHistoryMessages returns the maximum number of conversation history messages to keep.
func (a *LlmAgent) MaxHistoryMessages() int { return a.maxHistoryMessages }

// ResolveInstruction returns the instruction template for this run.
func (a *LlmAgent) ResolveInstruction(ictx *core.InvocationContext) (string, error) {
	return a.instruction.Resolve(ictx)
}

// Run implements core.Agent by executing the tool-calling loop.
func (a *LlmAgent) Run(ictx *core.InvocationContext) <-chan core.Event {
	return runStream(ictx, a.Name(), func(out chan<- core.Event) {
		ictx.Logger.Debug("agent.run.start", "agent", a.Name(), "branch", ictx.Branch, "invocation", ictx.InvocationID())
		a.flow.Run(ictx, a, out)
		ictx.Logger.Debug("agent.run.complete", "agent", a.Name(), "branch", ictx.Branch)
	})
}
