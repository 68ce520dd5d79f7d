// Package runner drives invocations of an agent tree.
//
// A Runner binds a root agent, the user's input and a core.SessionStore into
// one invocation:
//   - load or create the session (failure is returned to the caller)
//   - create the InvocationContext rooted at the agent's name
//   - append the user message as the first event of the session and stream
//   - drain the root agent, persisting every non-partial event as produced
//
// Persistence failures are logged, counted and reported through
// Invocation.PersistErrors; generation continues unless
// Options.FailOnPersistError is set. RunConfig.Timeout starts a timer that
// cancels the invocation cooperatively. After cancellation the runner never
// blocks on the consumer and drops events created after the cancellation
// point.
//
// Usage:
//
//	r := runner.New(root, func(o *runner.Options) {
//		o.SessionStore = store
//		o.RunConfig = core.RunConfig{Timeout: time.Minute}
//	})
//	events, err := r.RunOnce(ctx, "session-1", *core.NewTextContent(core.RoleUser, "hi"))
package runner
