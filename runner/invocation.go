package runner

import (
	"context"
	"sync"

	"github.com/hupe1980/agenttree/core"
)

// Invocation is a running or finished invocation started by Runner.Run.
type Invocation struct {
	id        string
	sessionID string
	ictx      *core.InvocationContext
	stop      context.CancelFunc
	events    chan core.Event
	done      chan struct{}
	delivered int

	mu          sync.Mutex
	err         error
	persistErrs []error
}

// ID returns the invocation id shared by all its events.
func (i *Invocation) ID() string { return i.id }

// SessionID returns the session the invocation writes to.
func (i *Invocation) SessionID() string { return i.sessionID }

// Events yields events as they are produced, partial fragments included. The
// channel is closed when the invocation finishes.
func (i *Invocation) Events() <-chan core.Event { return i.events }

// Wait blocks until the invocation finishes and returns the fatal error, if
// any. Events not yet received are discarded.
func (i *Invocation) Wait() error {
	for range i.events {
	}
	<-i.done
	return i.Err()
}

// Done is closed once the invocation has finished.
func (i *Invocation) Done() <-chan struct{} { return i.done }

// Cancel requests cooperative cancellation. Events produced after the
// cancellation point are not delivered.
func (i *Invocation) Cancel() { i.ictx.Cancel() }

// Cancelled reports whether the invocation was cancelled or timed out.
func (i *Invocation) Cancelled() bool { return i.ictx.Cancelled() }

// TimedOut reports whether RunConfig.Timeout elapsed.
func (i *Invocation) TimedOut() bool { return i.ictx.TimedOut() }

// Err returns the fatal error recorded so far.
func (i *Invocation) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// PersistErrors returns every persistence failure, fatal or not.
func (i *Invocation) PersistErrors() []error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]error(nil), i.persistErrs...)
}

func (i *Invocation) setErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err == nil {
		i.err = err
	}
}

func (i *Invocation) addPersistErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.persistErrs = append(i.persistErrs, err)
}

// deliver hands ev to the consumer. After cancellation it never blocks: the
// event is dropped when the consumer is not ready.
func (i *Invocation) deliver(ev core.Event) bool {
	if i.ictx.Cancelled() {
		select {
		case i.events <- ev:
		default:
			return false
		}
	} else {
		select {
		case i.events <- ev:
		case <-i.ictx.Done():
			return false
		}
	}
	i.delivered++
	return true
}
