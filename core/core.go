package core

import "github.com/hupe1980/agenttree/logging"

// callLogger tags every record with the agent, branch and function call a tool
// runs for, so tool logs can be correlated with the result event.
type callLogger struct {
	inner logging.Logger
	attrs []any
}

func newCallLogger(l logging.Logger, agentName, branch, functionCallID string) *callLogger {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	return &callLogger{
		inner: l,
		attrs: []any{"agent", agentName, "branch", branch, "function_call_id", functionCallID},
	}
}

func (l *callLogger) with(args []any) []any {
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}

func (l *callLogger) Debug(msg string, args ...any) { l.inner.Debug(msg, l.with(args)...) }
func (l *callLogger) Info(msg string, args ...any)  { l.inner.Info(msg, l.with(args)...) }
func (l *callLogger) Warn(msg string, args ...any)  { l.inner.Warn(msg, l.with(args)...) }
func (l *callLogger) Error(msg string, args ...any) { l.inner.Error(msg, l.with(args)...) }
