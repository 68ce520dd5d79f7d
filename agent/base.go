package agent

import (
	"fmt"
	"runtime/debug"

	"github.com/hupe1980/agenttree/core"
)

// BaseAgent bundles identity and hierarchy plumbing shared by all agents.
// Embed it in concrete agent implementations and supply a Run method to
// satisfy core.Agent. The child set is fixed at construction.
type BaseAgent struct {
	name        string       // Unique among siblings
	description string       // Detailed description of agent's purpose
	kind        core.AgentKind
	subAgents   []core.Agent // Children in declaration order
}

// NewBaseAgent validates name and children and constructs a BaseAgent. Child
// names must be unique within the sibling set; violations are reported as
// *core.ConfigError.
func NewBaseAgent(name string, kind core.AgentKind, children ...core.Agent) (BaseAgent, error) {
	if name == "" {
		return BaseAgent{}, core.NewConfigError("agent", "agent name must not be empty")
	}

	seen := make(map[string]struct{}, len(children))
	for i, child := range children {
		if child == nil {
			return BaseAgent{}, core.NewConfigError(name, "child %d is nil", i)
		}
		if _, dup := seen[child.Name()]; dup {
			return BaseAgent{}, core.NewConfigError(name, "duplicate child name %q", child.Name())
		}
		seen[child.Name()] = struct{}{}
	}

	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
		kind:        kind,
		subAgents:   append([]core.Agent(nil), children...),
	}, nil
}

// Name returns the agent's name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description. Call it before the agent runs.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// Kind returns the agent variant.
func (b *BaseAgent) Kind() core.AgentKind { return b.kind }

// SubAgents returns a copy of the child agents.
func (b *BaseAgent) SubAgents() []core.Agent {
	return append([]core.Agent(nil), b.subAgents...)
}

// runStream runs body on a goroutine feeding the returned channel, which is
// closed when body returns. A panic in body is recovered into an AGENT_PANIC
// error event authored by author.
func runStream(ictx *core.InvocationContext, author string, body func(out chan<- core.Event)) <-chan core.Event {
	out := make(chan core.Event, ictx.RunConfig().EventBuffer)

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				ictx.Logger.Error("agent.panic", "agent", author, "branch", ictx.Branch, "recover", r, "stack", string(debug.Stack()))
				ictx.Emit(out, ictx.NewErrorEvent(author, core.CodeAgentPanic, fmt.Errorf("panic: %v", r)))
			}
		}()
		body(out)
	}()

	return out
}

// forward relays every event of ch to out. Each non-partial event is passed
// to inspect before it is sent, so a loop claims a termination signal before
// any enclosing agent sees it. Once a send fails forward keeps draining ch
// without forwarding and returns false.
func forward(ictx *core.InvocationContext, ch <-chan core.Event, out chan<- core.Event, inspect func(core.Event)) bool {
	ok := true
	for ev := range ch {
		if !ok {
			continue
		}
		if !ev.Partial && inspect != nil {
			inspect(ev)
		}
		if !ictx.Forward(out, ev) {
			ok = false
		}
	}
	return ok
}
