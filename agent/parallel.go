package agent

import (
	"strconv"
	"sync"

	"github.com/hupe1980/agenttree/core"
)

// ParallelAgent runs its children concurrently.
//
// Each child runs on a forked branch "<branch>.<index>", so siblings do not
// see each other's output. Events are merged in arrival order; per-child
// order is preserved. The agent completes when every child has finished.
//
// When a child escalates, the escalation event is forwarded and the remaining
// siblings are cancelled through the fork scope; their later events are
// discarded. A sibling's error event does not stop the others.
type ParallelAgent struct {
	BaseAgent
}

// NewParallelAgent creates a parallel coordinator. Duplicate child names
// yield a *core.ConfigError.
func NewParallelAgent(name string, children ...core.Agent) (*ParallelAgent, error) {
	base, err := NewBaseAgent(name, core.KindParallel, children...)
	if err != nil {
		return nil, err
	}
	return &ParallelAgent{BaseAgent: base}, nil
}

// Run implements core.Agent.
func (p *ParallelAgent) Run(ictx *core.InvocationContext) <-chan core.Event {
	return runStream(ictx, p.Name(), func(out chan<- core.Event) {
		if len(p.subAgents) == 0 || ictx.Stopped() || ictx.Ended() {
			return
		}

		fork, cancel := ictx.Fork()
		defer cancel()

		merged := make(chan core.Event)
		var wg sync.WaitGroup

		for i, child := range p.subAgents {
			wg.Add(1)
			go func(idx int, c core.Agent) {
				defer wg.Done()
				for ev := range c.Run(fork.WithBranch(strconv.Itoa(idx))) {
					select {
					case merged <- ev:
					case <-fork.Done():
						// keep draining so the child can finish
					}
				}
			}(i, child)
		}

		go func() {
			wg.Wait()
			close(merged)
		}()

		open := true
		for ev := range merged {
			if !open {
				continue
			}
			if !fork.Forward(out, ev) {
				open = false
				cancel()
				continue
			}
			if !ev.Partial && ev.Actions.Escalate {
				ictx.Logger.Debug("agent.parallel.escalate", "agent", p.Name(), "branch", ev.Branch)
				open = false
				cancel()
			}
		}
	})
}
