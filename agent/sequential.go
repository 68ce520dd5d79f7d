package agent

import (
	"github.com/hupe1980/agenttree/core"
)

// SequentialAgent runs its children strictly in declared order.
//
// Every child receives the shared invocation context extended by its own
// branch segment, so later children see earlier children's output. A child
// starts only after the previous child's sequence has been fully drained.
//
// The sequence halts (after forwarding the triggering child's remaining
// events) when a child:
//   - escalates
//   - emits a terminal error event
//   - requests loop termination that no nested loop consumed
//   - ends the invocation
type SequentialAgent struct {
	BaseAgent
}

// NewSequentialAgent creates a sequential coordinator. Duplicate child names
// yield a *core.ConfigError.
func NewSequentialAgent(name string, children ...core.Agent) (*SequentialAgent, error) {
	base, err := NewBaseAgent(name, core.KindSequential, children...)
	if err != nil {
		return nil, err
	}
	return &SequentialAgent{BaseAgent: base}, nil
}

// Run implements core.Agent.
func (s *SequentialAgent) Run(ictx *core.InvocationContext) <-chan core.Event {
	return runStream(ictx, s.Name(), func(out chan<- core.Event) {
		for _, child := range s.subAgents {
			if ictx.Stopped() || ictx.Ended() {
				return
			}

			halt := false
			ok := forward(ictx, child.Run(ictx.WithBranch(child.Name())), out, func(ev core.Event) {
				if ev.Actions.Escalate || ev.IsError() {
					halt = true
				}
				if ev.Actions.TerminateLoop && !ictx.TerminationClaimed(ev.ID) {
					halt = true
				}
			})
			if !ok || halt {
				ictx.Logger.Debug("agent.sequential.halt", "agent", s.Name(), "child", child.Name(), "cancelled", !ok)
				return
			}
		}
	})
}
