package core

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/agenttree/logging"
)

var errNoArtifactStore = errors.New("artifact store not configured")

// ToolContext provides a constrained, auditable surface for tool
// implementations. It accumulates EventActions (state deltas, escalation,
// loop termination, artifact refs) which the flow merges into the tool's
// result event. Nothing is persisted directly.
type ToolContext struct {
	ictx           *InvocationContext
	ctx            context.Context
	agentName      string
	functionCallID string

	mu           sync.Mutex
	eventActions EventActions

	logger logging.Logger
}

// NewToolContext constructs a tool context bound to an invocation and a
// function call id. ctx may carry a per-tool deadline; nil uses the
// invocation context.
func NewToolContext(ctx context.Context, ictx *InvocationContext, agentName, functionCallID string) *ToolContext {
	if ctx == nil {
		ctx = ictx.Context()
	}
	return &ToolContext{
		ictx:           ictx,
		ctx:            ctx,
		agentName:      agentName,
		functionCallID: functionCallID,
		logger:         newCallLogger(ictx.Logger, agentName, ictx.Branch, functionCallID),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// InvocationID returns the invocation id.
func (tc *ToolContext) InvocationID() string { return tc.ictx.InvocationID() }

// SessionID returns the session ID associated with the tool invocation.
func (tc *ToolContext) SessionID() string { return tc.ictx.SessionID() }

// Logger returns the invocation logger with the agent, branch and function
// call id attached to every record.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// AgentName returns the name of the agent that issued the call.
func (tc *ToolContext) AgentName() string { return tc.agentName }

// Branch returns the branch the calling agent runs on.
func (tc *ToolContext) Branch() string { return tc.ictx.Branch }

// GetState returns a value staged by this tool, by the invocation, or persisted
// in the session.
func (tc *ToolContext) GetState(k string) (any, bool) {
	tc.mu.Lock()
	v, ok := tc.eventActions.StateDelta[k]
	tc.mu.Unlock()
	if ok {
		return v, true
	}
	return tc.ictx.GetState(k)
}

// SetState stages a state mutation in the result event's delta.
func (tc *ToolContext) SetState(k string, v any) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.eventActions.StateDelta == nil {
		tc.eventActions.StateDelta = map[string]any{}
	}
	tc.eventActions.StateDelta[k] = v
}

// Actions returns a copy of the accumulated event actions.
func (tc *ToolContext) Actions() EventActions {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	var a EventActions
	a.Merge(tc.eventActions)
	return a
}

// Escalate asks the enclosing composite agents to stop and hand control upward.
func (tc *ToolContext) Escalate() {
	tc.mu.Lock()
	tc.eventActions.Escalate = true
	tc.mu.Unlock()
	tc.logger.Info("tool.escalate.request")
}

// TerminateLoop ends the innermost enclosing loop agent.
func (tc *ToolContext) TerminateLoop() {
	tc.mu.Lock()
	tc.eventActions.TerminateLoop = true
	tc.mu.Unlock()
	tc.logger.Info("tool.terminate_loop.request")
}

// EndInvocation stops the whole invocation after the current result.
func (tc *ToolContext) EndInvocation() {
	tc.mu.Lock()
	tc.eventActions.EndInvocation = true
	tc.mu.Unlock()
	tc.logger.Info("tool.end_invocation.request")
}

// SaveArtifact persists artifact bytes and records the written version.
func (tc *ToolContext) SaveArtifact(id string, data []byte) (int, error) {
	store := tc.ictx.Artifacts()
	if store == nil {
		return 0, errNoArtifactStore
	}

	version, err := store.Save(tc.ctx, tc.SessionID(), id, data)
	if err != nil {
		return 0, err
	}

	tc.mu.Lock()
	if tc.eventActions.ArtifactDelta == nil {
		tc.eventActions.ArtifactDelta = map[string]int{}
	}
	tc.eventActions.ArtifactDelta[id] = version
	tc.mu.Unlock()

	return version, nil
}

// LoadArtifact retrieves a persisted artifact by id.
func (tc *ToolContext) LoadArtifact(id string) ([]byte, error) {
	store := tc.ictx.Artifacts()
	if store == nil {
		return nil, errNoArtifactStore
	}
	return store.Get(tc.ctx, tc.SessionID(), id)
}

// ListArtifacts returns artifact IDs stored for the session.
func (tc *ToolContext) ListArtifacts() ([]string, error) {
	store := tc.ictx.Artifacts()
	if store == nil {
		return nil, errNoArtifactStore
	}
	return store.List(tc.ctx, tc.SessionID())
}

// History returns the conversation visible to the calling agent.
func (tc *ToolContext) History() []Event { return tc.ictx.History() }
