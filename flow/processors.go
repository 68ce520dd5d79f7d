package flow

import (
	"fmt"

	"github.com/hupe1980/agenttree/core"
	internalutil "github.com/hupe1980/agenttree/internal/util"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/tool"
)

// DefaultRequestProcessors returns the processors used by New, in order.
func DefaultRequestProcessors() []RequestProcessor {
	return []RequestProcessor{
		NewInstructionsProcessor(),
		NewContentsProcessor(),
		NewToolsProcessor(),
	}
}

// InstructionsProcessor renders the agent instruction against the merged
// session and invocation state.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets req.Instructions.
func (p *InstructionsProcessor) ProcessRequest(ictx *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	instruction, err := agent.ResolveInstruction(ictx)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}
	if instruction == "" {
		return nil
	}

	rendered, err := internalutil.RenderTemplate(instruction, ictx.State())
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	ictx.Logger.Debug("agent.instruction.resolved", "agent", agent.Name(), "length", len(rendered))
	req.Instructions = rendered

	return nil
}

// ContentsProcessor adds the conversation visible from the agent's branch.
type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest appends history contents, keeping the most recent
// MaxHistoryMessages entries.
func (p *ContentsProcessor) ProcessRequest(ictx *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	events := core.ConversationHistory(ictx.History())
	if limit := agent.MaxHistoryMessages(); limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
		// a tool result must follow the turn that requested it
		for len(events) > 0 && events[0].Content.Role == core.RoleTool {
			events = events[1:]
		}
	}

	for _, ev := range events {
		if len(ev.Content.Parts) > 0 {
			req.Contents = append(req.Contents, *ev.Content)
		}
	}

	return nil
}

// ToolsProcessor declares the agent's tools.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest sets req.Tools.
func (p *ToolsProcessor) ProcessRequest(_ *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	req.Tools = tool.Definitions(agent.Tools())
	return nil
}
