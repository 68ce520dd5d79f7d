package core

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agenttree/logging"
)

// InvocationParams carries the inputs used to create the root InvocationContext
// of an invocation. The runner is the only component creating one.
type InvocationParams struct {
	InvocationID string
	AppName      string
	UserID       string
	Session      *Session
	History      []Event
	Sessions     SessionStore
	Artifacts    ArtifactStore
	RunConfig    RunConfig
	Logger       logging.Logger
}

// invocationState is shared by every context derived from the same root.
// Flags and counters are atomic; the event log, state overlay and fork
// registry are guarded by mu. Everything else is immutable after creation.
type invocationState struct {
	invocationID string
	appName      string
	userID       string
	session      *Session
	sessions     SessionStore
	artifacts    ArtifactStore
	config       RunConfig
	startedAt    time.Time
	rootCancel   context.CancelFunc

	cancelled   atomic.Bool
	ended       atomic.Bool
	timedOut    atomic.Bool
	cancelledAt atomic.Int64
	seq         atomic.Int64
	modelCalls  atomic.Int64

	mu      sync.RWMutex
	history []Event
	log     []Event
	state   map[string]any
	forks   map[string]struct{}
	claims  map[string]struct{}
}

// InvocationContext is the per-invocation execution scope handed to an
// agent's Run method. Composite agents derive children with WithBranch or
// Fork; leaves only read it and create events through NewEvent.
type InvocationContext struct {
	ctx    context.Context
	Branch string
	Logger logging.Logger

	state *invocationState
}

// NewInvocationContext creates the root context of an invocation. The returned
// context is cancelled by Cancel or when parent is done.
func NewInvocationContext(parent context.Context, p InvocationParams) *InvocationContext {
	ctx, cancel := context.WithCancel(parent)

	if p.InvocationID == "" {
		p.InvocationID = NewID()
	}

	if p.Logger == nil {
		p.Logger = logging.NoOpLogger{}
	}

	s := &invocationState{
		invocationID: p.InvocationID,
		appName:      p.AppName,
		userID:       p.UserID,
		session:      p.Session,
		sessions:     p.Sessions,
		artifacts:    p.Artifacts,
		config:       p.RunConfig.WithDefaults(),
		startedAt:    time.Now().UTC(),
		rootCancel:   cancel,
		history:      append([]Event(nil), p.History...),
		state:        map[string]any{},
		forks:        map[string]struct{}{},
		claims:       map[string]struct{}{},
	}
	s.seq.Store(-1)

	return &InvocationContext{ctx: ctx, Logger: p.Logger, state: s}
}

// Context returns the ambient context. It is done when the invocation or the
// enclosing fork scope is cancelled.
func (ic *InvocationContext) Context() context.Context { return ic.ctx }

// Done mirrors context.Context's Done.
func (ic *InvocationContext) Done() <-chan struct{} { return ic.ctx.Done() }

// InvocationID returns the id shared by all events of this invocation.
func (ic *InvocationContext) InvocationID() string { return ic.state.invocationID }

// AppName returns the application name the invocation runs under.
func (ic *InvocationContext) AppName() string { return ic.state.appName }

// UserID returns the user the invocation runs for.
func (ic *InvocationContext) UserID() string { return ic.state.userID }

// SessionID returns the id of the bound session, or "" when none.
func (ic *InvocationContext) SessionID() string {
	if ic.state.session == nil {
		return ""
	}
	return ic.state.session.ID
}

// Session returns the session snapshot loaded at invocation start.
func (ic *InvocationContext) Session() *Session { return ic.state.session }

// Sessions returns the session store, which may be nil.
func (ic *InvocationContext) Sessions() SessionStore { return ic.state.sessions }

// Artifacts returns the artifact store, which may be nil.
func (ic *InvocationContext) Artifacts() ArtifactStore { return ic.state.artifacts }

// RunConfig returns the effective run configuration.
func (ic *InvocationContext) RunConfig() RunConfig { return ic.state.config }

// StartedAt returns the invocation start time.
func (ic *InvocationContext) StartedAt() time.Time { return ic.state.startedAt }

// NewEvent creates an event authored by author, stamped with the invocation
// id, the current branch, the next sequence number and the current time.
func (ic *InvocationContext) NewEvent(author string) Event {
	return Event{
		ID:           NewID(),
		InvocationID: ic.state.invocationID,
		Author:       author,
		Branch:       ic.Branch,
		Seq:          ic.state.seq.Add(1),
		Timestamp:    time.Now().UTC(),
	}
}

// NewErrorEvent creates a terminal error event for author.
func (ic *InvocationContext) NewErrorEvent(author, code string, err error) Event {
	ev := ic.NewEvent(author)
	ev.Error = &EventError{Code: code, Message: err.Error()}
	ev.TurnComplete = true
	return ev
}

// Emit records ev in the invocation log (unless partial) and sends it on out.
// It returns false without sending when the scope is cancelled. Use Emit for
// events the caller produced and Forward for relaying a child's events.
func (ic *InvocationContext) Emit(out chan<- Event, ev Event) bool {
	if !ic.send(out, ev) {
		return false
	}
	if !ev.Partial {
		ic.Record(ev)
	}
	return true
}

// Forward relays an already recorded event to out. It returns false without
// sending when the scope is cancelled.
func (ic *InvocationContext) Forward(out chan<- Event, ev Event) bool {
	return ic.send(out, ev)
}

func (ic *InvocationContext) send(out chan<- Event, ev Event) bool {
	if ic.Stopped() {
		return false
	}
	select {
	case <-ic.ctx.Done():
		return false
	case out <- ev:
		return true
	}
}

// Record appends a non-partial event to the invocation log and applies its
// state delta and end-of-invocation signal.
func (ic *InvocationContext) Record(ev Event) {
	s := ic.state
	s.mu.Lock()
	s.log = append(s.log, ev)
	for k, v := range ev.Actions.StateDelta {
		s.state[k] = v
	}
	s.mu.Unlock()

	if ev.Actions.EndInvocation {
		s.ended.Store(true)
	}
}

// WithBranch derives a context whose branch is extended by segment.
func (ic *InvocationContext) WithBranch(segment string) *InvocationContext {
	c := *ic
	c.Branch = JoinBranch(ic.Branch, segment)
	return &c
}

// Fork derives a cancellable scope for concurrently running children. Events
// produced on different branches below the fork are hidden from each other in
// History. Cancelling the returned func stops only this scope.
func (ic *InvocationContext) Fork() (*InvocationContext, context.CancelFunc) {
	ic.state.mu.Lock()
	ic.state.forks[ic.Branch] = struct{}{}
	ic.state.mu.Unlock()

	ctx, cancel := context.WithCancel(ic.ctx)
	c := *ic
	c.ctx = ctx
	return &c, cancel
}

// Cancel sets the invocation-wide cancellation flag and cancels the root
// context. The first call records the cancellation point.
func (ic *InvocationContext) Cancel() {
	s := ic.state
	if s.cancelled.CompareAndSwap(false, true) {
		s.cancelledAt.Store(time.Now().UTC().UnixNano())
	}
	s.rootCancel()
}

// Timeout cancels the invocation and marks it as timed out.
func (ic *InvocationContext) Timeout() {
	ic.state.timedOut.Store(true)
	ic.Cancel()
}

// Cancelled reports whether the invocation-wide cancellation flag is set.
func (ic *InvocationContext) Cancelled() bool { return ic.state.cancelled.Load() }

// TimedOut reports whether the invocation was cancelled by its timeout.
func (ic *InvocationContext) TimedOut() bool { return ic.state.timedOut.Load() }

// CancelledAt returns the cancellation point, or the zero time.
func (ic *InvocationContext) CancelledAt() time.Time {
	n := ic.state.cancelledAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Stopped reports whether work in this scope should stop because the
// invocation was cancelled or the scope context is done.
func (ic *InvocationContext) Stopped() bool {
	return ic.state.cancelled.Load() || ic.ctx.Err() != nil
}

// ClaimTermination marks the loop-termination signal carried by event id as
// consumed. It returns false if another loop already claimed it.
func (ic *InvocationContext) ClaimTermination(eventID string) bool {
	ic.state.mu.Lock()
	defer ic.state.mu.Unlock()
	if _, ok := ic.state.claims[eventID]; ok {
		return false
	}
	ic.state.claims[eventID] = struct{}{}
	return true
}

// TerminationClaimed reports whether a loop consumed the termination signal of event id.
func (ic *InvocationContext) TerminationClaimed(eventID string) bool {
	ic.state.mu.RLock()
	defer ic.state.mu.RUnlock()
	_, ok := ic.state.claims[eventID]
	return ok
}

// EndInvocation requests that no further agents run in this invocation.
func (ic *InvocationContext) EndInvocation() { ic.state.ended.Store(true) }

// Ended reports whether an event or caller ended the invocation.
func (ic *InvocationContext) Ended() bool { return ic.state.ended.Load() }

// CountModelCall increments and returns the number of model calls made.
func (ic *InvocationContext) CountModelCall() int64 { return ic.state.modelCalls.Add(1) }

// ModelCalls returns the number of model calls made so far.
func (ic *InvocationContext) ModelCalls() int64 { return ic.state.modelCalls.Load() }

// GetState returns a value staged during this invocation or, failing that,
// the value persisted in the session.
func (ic *InvocationContext) GetState(key string) (any, bool) {
	ic.state.mu.RLock()
	v, ok := ic.state.state[key]
	ic.state.mu.RUnlock()
	if ok {
		return v, true
	}
	if ic.state.session != nil {
		return ic.state.session.GetState(key)
	}
	return nil, false
}

// State returns a merged snapshot of session state and the invocation overlay.
func (ic *InvocationContext) State() map[string]any {
	out := map[string]any{}
	if ic.state.session != nil {
		for k, v := range ic.state.session.StateSnapshot() {
			out[k] = v
		}
	}
	ic.state.mu.RLock()
	for k, v := range ic.state.state {
		out[k] = v
	}
	ic.state.mu.RUnlock()
	return out
}

// Events returns every non-partial event recorded during this invocation in
// recording order, regardless of branch.
func (ic *InvocationContext) Events() []Event {
	ic.state.mu.RLock()
	defer ic.state.mu.RUnlock()
	return append([]Event(nil), ic.state.log...)
}

// History returns the conversation visible from the current branch: prior
// session events followed by events of this invocation, excluding partial
// events and output of concurrently running sibling branches.
func (ic *InvocationContext) History() []Event {
	s := ic.state
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]Event, 0, len(s.history)+len(s.log))
	for _, ev := range s.history {
		if !ev.Partial {
			res = append(res, ev)
		}
	}
	for _, ev := range s.log {
		if ev.Partial || !s.visibleLocked(ev.Branch, ic.Branch) {
			continue
		}
		res = append(res, ev)
	}
	return res
}

// visibleLocked reports whether an event produced on branch from is visible
// to branch to. Events from sibling branches of a fork are hidden.
func (s *invocationState) visibleLocked(from, to string) bool {
	if from == "" || to == "" || from == to {
		return true
	}
	for fork := range s.forks {
		a, okA := childSegment(fork, from)
		b, okB := childSegment(fork, to)
		if okA && okB && a != b {
			return false
		}
	}
	return true
}

// childSegment returns the segment directly below prefix in branch.
func childSegment(prefix, branch string) (string, bool) {
	rest := branch
	if prefix != "" {
		if !strings.HasPrefix(branch, prefix+BranchSeparator) {
			return "", false
		}
		rest = branch[len(prefix)+len(BranchSeparator):]
	}
	if rest == "" {
		return "", false
	}
	if i := strings.Index(rest, BranchSeparator); i >= 0 {
		return rest[:i], true
	}
	return rest, true
}

// BranchSeparator separates segments of a branch path.
const BranchSeparator = "."

// JoinBranch appends segment to the branch path parent.
func JoinBranch(parent, segment string) string {
	if parent == "" {
		return segment
	}
	if segment == "" {
		return parent
	}
	return parent + BranchSeparator + segment
}
