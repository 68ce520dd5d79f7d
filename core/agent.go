package core

// AgentKind enumerates the closed set of agent variants.
type AgentKind int

const (
	// KindLlm is a leaf agent that drives the model/tool loop.
	KindLlm AgentKind = iota
	// KindSequential runs its children in order.
	KindSequential
	// KindParallel runs its children concurrently.
	KindParallel
	// KindLoop repeats its children until terminated or exhausted.
	KindLoop
)

// String returns the kind label used in logs and metrics.
func (k AgentKind) String() string {
	switch k {
	case KindLlm:
		return "llm"
	case KindSequential:
		return "sequential"
	case KindParallel:
		return "parallel"
	case KindLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// Agent is a node in a static, acyclic agent tree.
//
// Run starts the agent and returns a lazy, finite event sequence. The channel
// is closed when the agent has finished, failed (an error event is the last
// event) or observed cancellation. Implementations must:
//   - check ictx.Stopped at every suspension point
//   - never re-emit partial events after cancellation
//   - convert their own failures into error events instead of panicking
type Agent interface {
	Name() string
	Description() string
	Kind() AgentKind
	SubAgents() []Agent
	Run(ictx *InvocationContext) <-chan Event
}

// Walk visits agent and its descendants depth-first, pre-order. It stops when
// fn returns false.
func Walk(agent Agent, fn func(a Agent, depth int) bool) {
	walk(agent, 0, fn)
}

func walk(a Agent, depth int, fn func(Agent, int) bool) bool {
	if !fn(a, depth) {
		return false
	}
	for _, c := range a.SubAgents() {
		if !walk(c, depth+1, fn) {
			return false
		}
	}
	return true
}

// FindAgent returns the first agent named name in the tree rooted at root.
func FindAgent(root Agent, name string) Agent {
	var found Agent
	Walk(root, func(a Agent, _ int) bool {
		if a.Name() == name {
			found = a
			return false
		}
		return true
	})
	return found
}
