package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/agenttree/agent"
	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/config"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/tool"
)

// ScriptedModelName selects a model.ScriptedModel replaying AgentSpec.Script.
const ScriptedModelName = "scripted"

// scriptToolPrefix marks a script entry as a tool call: "tool:<name> <json args>".
const scriptToolPrefix = "tool:"

type treeBuilder struct {
	registry  *model.Registry
	tools     map[string]tool.Tool
	rateLimit float64
	burst     int
}

// buildAgent builds the agent tree described by spec bottom-up.
func buildAgent(spec config.AgentSpec, b *treeBuilder) (core.Agent, error) {
	children := make([]core.Agent, 0, len(spec.Children))
	for _, cs := range spec.Children {
		child, err := buildAgent(cs, b)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	switch spec.Kind {
	case config.KindLlm:
		return b.llmAgent(spec)
	case config.KindSequential:
		seq, err := agent.NewSequentialAgent(spec.Name, children...)
		if err != nil {
			return nil, err
		}
		if spec.Description != "" {
			seq.SetDescription(spec.Description)
		}
		return seq, nil
	case config.KindParallel:
		par, err := agent.NewParallelAgent(spec.Name, children...)
		if err != nil {
			return nil, err
		}
		if spec.Description != "" {
			par.SetDescription(spec.Description)
		}
		return par, nil
	case config.KindLoop:
		var opts []agent.LoopOption
		if spec.MaxIters > 0 {
			opts = append(opts, agent.WithMaxIters(spec.MaxIters))
		}
		if spec.Interval > 0 {
			opts = append(opts, agent.WithInterval(spec.Interval))
		}
		loop, err := agent.NewLoopAgent(spec.Name, children, opts...)
		if err != nil {
			return nil, err
		}
		if spec.Description != "" {
			loop.SetDescription(spec.Description)
		}
		return loop, nil
	default:
		return nil, core.NewConfigError(spec.Name, "unknown agent kind %q", spec.Kind)
	}
}

func (b *treeBuilder) llmAgent(spec config.AgentSpec) (core.Agent, error) {
	llm, err := b.model(spec)
	if err != nil {
		return nil, err
	}

	tools := make([]tool.Tool, 0, len(spec.Tools))
	for _, name := range spec.Tools {
		t, ok := b.tools[name]
		if !ok {
			return nil, core.NewConfigError(spec.Name, "unknown tool %q", name)
		}
		tools = append(tools, t)
	}

	return agent.NewLlmAgent(spec.Name, llm, func(o *agent.LlmOptions) {
		o.Description = spec.Description
		if spec.Instruction != "" {
			o.Instruction = agent.NewInstructionFromText(spec.Instruction)
		}
		o.Tools = tools
		o.OutputKey = spec.OutputKey
		if spec.ToolTimeout > 0 {
			o.ToolTimeout = spec.ToolTimeout
		}
		if spec.MaxHistoryMessages > 0 {
			o.MaxHistoryMessages = spec.MaxHistoryMessages
		}
	})
}

func (b *treeBuilder) model(spec config.AgentSpec) (model.Model, error) {
	if spec.Model == ScriptedModelName {
		return scriptedModel(spec)
	}

	m, err := b.registry.Resolve(spec.Model)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.Name, err)
	}
	if b.rateLimit > 0 {
		m = model.WithRateLimit(m, b.rateLimit, b.burst)
	}
	return m, nil
}

// scriptedModel turns spec.Script into model turns. A final text turn is
// replayed once the script is exhausted so the agent can serve many turns.
func scriptedModel(spec config.AgentSpec) (model.Model, error) {
	if len(spec.Script) == 0 {
		return nil, core.NewConfigError(spec.Name, "scripted model needs a script")
	}

	turns := make([]model.Turn, 0, len(spec.Script))
	for i, entry := range spec.Script {
		if !strings.HasPrefix(entry, scriptToolPrefix) {
			turns = append(turns, model.TextTurn(entry))
			continue
		}

		name, args, _ := strings.Cut(strings.TrimPrefix(entry, scriptToolPrefix), " ")
		args = strings.TrimSpace(args)
		if args == "" {
			args = "{}"
		}
		if name == "" || !json.Valid([]byte(args)) {
			return nil, core.NewConfigError(spec.Name, "script entry %d: want %q", i, "tool:<name> <json args>")
		}
		turns = append(turns, model.ToolCallTurn(core.FunctionCall{
			ID:        fmt.Sprintf("%s-call-%d", spec.Name, i),
			Name:      name,
			Arguments: args,
		}))
	}

	m := model.NewScriptedModel(spec.Name+"-"+ScriptedModelName, turns...)
	if len(turns[len(turns)-1].Calls) == 0 {
		m.RepeatLast()
	}
	return m, nil
}

// PrintTree writes one "name (kind): description" line per agent, indented
// two spaces per depth level.
func PrintTree(w io.Writer, root core.Agent) error {
	return printTree(w, root, 0)
}

func printTree(w io.Writer, a core.Agent, depth int) error {
	line := fmt.Sprintf("%s%s (%s)", strings.Repeat("  ", depth), a.Name(), a.Kind())
	if d := a.Description(); d != "" {
		line += ": " + d
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, child := range a.SubAgents() {
		if err := printTree(w, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
