package agent

import (
	"strconv"
	"time"

	"github.com/hupe1980/agenttree/core"
)

// MetadataLoopIterations is the CustomMetadata key on the terminal loop event.
const MetadataLoopIterations = "loop.iterations"

// LoopAgent repeats its ordered children until a child requests loop
// termination, escalates, fails, or the iteration budget is exhausted.
//
// A TerminateLoop signal is consumed by the innermost loop that sees it, so
// an enclosing loop keeps iterating. After exhausting the budget without a
// termination signal the loop emits one terminal event carrying the number of
// iterations under MetadataLoopIterations.
type LoopAgent struct {
	BaseAgent
	maxIters    int               // Zero falls back to RunConfig.MaxLoopIterations
	maxItersSet bool              // WithMaxIters was applied
	interval    time.Duration     // Time delay between iterations
	predicate   func(string) bool // Stops the loop when it matches a child's final text
}

// LoopOption defines a configuration function for customizing LoopAgent behavior.
type LoopOption func(*LoopAgent)

// WithMaxIters sets the maximum number of iterations. Values <= 0 are
// rejected by NewLoopAgent.
func WithMaxIters(n int) LoopOption {
	return func(l *LoopAgent) {
		l.maxIters = n
		l.maxItersSet = true
	}
}

// WithInterval sets the time delay between loop iterations.
func WithInterval(d time.Duration) LoopOption {
	return func(l *LoopAgent) { l.interval = d }
}

// WithPredicate sets a termination condition evaluated on the text of each
// completed assistant turn.
//
// Example:
//
//	WithPredicate(func(output string) bool {
//	    return strings.Contains(output, "COMPLETE")
//	})
func WithPredicate(pred func(string) bool) LoopOption {
	return func(l *LoopAgent) { l.predicate = pred }
}

// NewLoopAgent constructs a looping coordinator over children.
func NewLoopAgent(name string, children []core.Agent, opts ...LoopOption) (*LoopAgent, error) {
	base, err := NewBaseAgent(name, core.KindLoop, children...)
	if err != nil {
		return nil, err
	}

	la := &LoopAgent{BaseAgent: base}
	for _, o := range opts {
		o(la)
	}

	if la.maxItersSet && la.maxIters <= 0 {
		return nil, core.NewConfigError(name, "max iterations must be positive, got %d", la.maxIters)
	}

	return la, nil
}

// MaxIters returns the configured iteration budget, or 0 when it falls back
// to the run configuration.
func (l *LoopAgent) MaxIters() int { return l.maxIters }

// Run implements core.Agent.
func (l *LoopAgent) Run(ictx *core.InvocationContext) <-chan core.Event {
	return runStream(ictx, l.Name(), func(out chan<- core.Event) {
		maxIters := l.maxIters
		if maxIters <= 0 {
			maxIters = ictx.RunConfig().MaxLoopIterations
		}

		for i := 0; i < maxIters; i++ {
			if ictx.Stopped() || ictx.Ended() {
				return
			}

			ictx.Logger.Debug("agent.loop.iteration", "agent", l.Name(), "iteration", i+1, "max", maxIters)

			if done := l.runIteration(ictx, out); done {
				return
			}

			if l.interval > 0 && i < maxIters-1 {
				select {
				case <-ictx.Done():
					return
				case <-time.After(l.interval):
				}
			}
		}

		ictx.Logger.Debug("agent.loop.exhausted", "agent", l.Name(), "iterations", maxIters)

		ev := ictx.NewEvent(l.Name())
		ev.TurnComplete = true
		ev.CustomMetadata = map[string]string{MetadataLoopIterations: strconv.Itoa(maxIters)}
		ictx.Emit(out, ev)
	})
}

// runIteration runs every child once and reports whether the loop must stop.
func (l *LoopAgent) runIteration(ictx *core.InvocationContext, out chan<- core.Event) bool {
	for _, child := range l.subAgents {
		if ictx.Stopped() || ictx.Ended() {
			return true
		}

		var terminated, halt bool
		ok := forward(ictx, child.Run(ictx.WithBranch(child.Name())), out, func(ev core.Event) {
			if ev.Actions.TerminateLoop && ictx.ClaimTermination(ev.ID) {
				terminated = true
			}
			if ev.Actions.Escalate || ev.IsError() {
				halt = true
			}
			if l.predicate != nil && ev.TurnComplete && ev.Content != nil &&
				ev.Content.Role == core.RoleAssistant && l.predicate(ev.Text()) {
				terminated = true
			}
		})

		if !ok || halt || terminated {
			ictx.Logger.Debug("agent.loop.stop", "agent", l.Name(), "child", child.Name(),
				"terminated", terminated, "halt", halt, "cancelled", !ok)
			return true
		}
	}
	return false
}
