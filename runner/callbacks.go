package runner

import (
	"context"
	"sync"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/logging"
)

// CallbackType names a lifecycle point of an invocation.
type CallbackType string

const (
	// CallbackBeforeInvocation runs after the session is loaded and before the
	// user message is recorded. An error aborts Run.
	CallbackBeforeInvocation CallbackType = "before_invocation"

	// CallbackAfterInvocation runs once the event stream has ended. Errors are
	// logged only.
	CallbackAfterInvocation CallbackType = "after_invocation"

	// CallbackOnEvent runs for every non-partial event before it is stored.
	// An error is handled like a persistence failure.
	CallbackOnEvent CallbackType = "on_event"

	// CallbackOnStateChange runs for events carrying a state delta, before the
	// event is stored. An error is handled like a persistence failure.
	CallbackOnStateChange CallbackType = "on_state_change"
)

// CallbackContext is passed to every callback.
type CallbackContext struct {
	InvocationContext *core.InvocationContext
	// Event is nil for the before/after invocation callbacks.
	Event        *core.Event
	SessionID    string
	CallbackType CallbackType
}

// Callback is an invocation lifecycle hook. Callbacks run synchronously on
// the invocation's goroutine and should return quickly.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(CallbackOnEvent,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("event %s by %s", cc.Event.ID, cc.Event.Author)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks by type. Callbacks of one type run in
// registration order and the first error stops the chain. It is safe for
// concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds callback under its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs the callbacks registered for callbackType and returns
// the first error. A nil manager runs nothing.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}

	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback writes one debug record per lifecycle point it handles.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a logging callback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute logs the lifecycle point with the event details when available.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	args := []any{"callback", string(c.callbackType), "session", callbackCtx.SessionID}
	if ictx := callbackCtx.InvocationContext; ictx != nil {
		args = append(args, "invocation", ictx.InvocationID())
	}
	if ev := callbackCtx.Event; ev != nil {
		args = append(args, "event", ev.ID, "author", ev.Author, "branch", ev.Branch)
	}
	c.logger.Debug("runner.callback", args...)
	return nil
}

// StateValidationCallback rejects events whose state delta fails validation.
//
// Example:
//
//	validator := func(delta map[string]any) error {
//	    if v, ok := delta["user_id"]; ok && v == nil {
//	        return errors.New("user_id cannot be nil")
//	    }
//	    return nil
//	}
//	callback := NewStateValidationCallback(validator)
type StateValidationCallback struct {
	validator func(stateDelta map[string]any) error
}

// NewStateValidationCallback creates a new state validation callback.
func NewStateValidationCallback(validator func(stateDelta map[string]any) error) *StateValidationCallback {
	return &StateValidationCallback{
		validator: validator,
	}
}

// Type returns CallbackOnStateChange.
func (c *StateValidationCallback) Type() CallbackType { return CallbackOnStateChange }

// Execute validates the event's state delta.
func (c *StateValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator != nil && callbackCtx.Event != nil && len(callbackCtx.Event.Actions.StateDelta) > 0 {
		return c.validator(callbackCtx.Event.Actions.StateDelta)
	}
	return nil
}
