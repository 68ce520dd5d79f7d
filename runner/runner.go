package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agenttree/artifact"
	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/metrics"
	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/observer"
	"github.com/hupe1980/agenttree/session"
)

// ErrInvocationNotFound is returned by Cancel for unknown or finished invocations.
var ErrInvocationNotFound = errors.New("invocation not found")

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// AppName and UserID are attached to every invocation context.
	AppName string
	UserID  string
	// RunConfig bounds each invocation. Zero fields take the defaults.
	RunConfig core.RunConfig
	// MaxConcurrentInvocations limits concurrent invocations. Run blocks
	// while the limit is reached. Zero means unlimited.
	MaxConcurrentInvocations int
	// FailOnPersistError makes a persistence failure fatal for the invocation.
	FailOnPersistError bool
	// Session management services.
	SessionStore core.SessionStore
	// Artifact management services.
	ArtifactStore core.ArtifactStore
	// Logging services.
	Logger logging.Logger
	// Callbacks hooks into the invocation lifecycle. Nil disables hooks.
	Callbacks *CallbackManager
}

// Runner binds a root agent, the user input and a session store into
// invocations. Public methods are safe for concurrent use.
type Runner struct {
	root core.Agent

	appName            string
	userID             string
	runConfig          core.RunConfig
	failOnPersistError bool
	slots              chan struct{}

	sessionStore  core.SessionStore
	artifactStore core.ArtifactStore
	logger        logging.Logger
	callbacks     *CallbackManager

	activeRuns map[string]*Invocation
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides. Stores default to the
// in-memory implementations.
func New(root core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		SessionStore:  session.NewInMemoryStore(),
		ArtifactStore: artifact.NewInMemoryStore(),
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var slots chan struct{}
	if opts.MaxConcurrentInvocations > 0 {
		slots = make(chan struct{}, opts.MaxConcurrentInvocations)
	}

	return &Runner{
		root:               root,
		appName:            opts.AppName,
		userID:             opts.UserID,
		runConfig:          opts.RunConfig.WithDefaults(),
		failOnPersistError: opts.FailOnPersistError,
		slots:              slots,
		sessionStore:       opts.SessionStore,
		artifactStore:      opts.ArtifactStore,
		logger:             opts.Logger,
		callbacks:          opts.Callbacks,
		activeRuns:         make(map[string]*Invocation),
	}
}

// RunOnce executes a full turn and returns its non-partial events, starting
// with the user message. Cancellation and timeout are not errors; the error
// is only set when the session could not be loaded or persistence failed in
// fatal mode.
func (r *Runner) RunOnce(ctx context.Context, sessionID string, msg core.Content) ([]core.Event, error) {
	inv, err := r.Run(ctx, sessionID, msg)
	if err != nil {
		return nil, err
	}

	var events []core.Event
	for ev := range inv.Events() {
		if !ev.Partial {
			events = append(events, ev)
		}
	}
	return events, inv.Wait()
}

// Run starts an invocation and streams its events.
func (r *Runner) Run(ctx context.Context, sessionID string, msg core.Content) (*Invocation, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}

	sess, err := r.loadSession(ctx, sessionID)
	if err != nil {
		r.release()
		return nil, err
	}

	invocationID := core.NewID()
	logger := r.logger
	if sl, ok := logger.(*logging.StructuredLogger); ok {
		logger = sl.WithInvocation(sessionID, invocationID)
	}

	spanCtx, span := observer.StartSpan(ctx, observer.SpanInvocation,
		observer.AttrAgent.String(r.root.Name()),
		observer.AttrInvocationID.String(invocationID),
		observer.AttrSessionID.String(sessionID),
	)

	runCtx, stop := context.WithCancel(spanCtx)
	base := core.NewInvocationContext(runCtx, core.InvocationParams{
		InvocationID: invocationID,
		AppName:      r.appName,
		UserID:       r.userID,
		Session:      sess,
		History:      sess.GetEvents(),
		Sessions:     r.sessionStore,
		Artifacts:    r.artifactStore,
		RunConfig:    r.runConfig,
		Logger:       logger,
	})
	ictx := base.WithBranch(r.root.Name())

	inv := &Invocation{
		id:        invocationID,
		sessionID: sessionID,
		ictx:      ictx,
		stop:      stop,
		events:    make(chan core.Event, ictx.RunConfig().EventBuffer),
		done:      make(chan struct{}),
	}

	if err := r.callbacks.ExecuteCallbacks(ctx, CallbackBeforeInvocation, &CallbackContext{
		InvocationContext: ictx,
		SessionID:         sessionID,
	}); err != nil {
		err = fmt.Errorf("runner: before invocation: %w", err)
		stop()
		observer.EndSpan(span, err)
		r.release()
		return nil, err
	}

	userEvent := ictx.NewEvent(core.AuthorUser)
	userEvent.Content = &msg
	userEvent.TurnComplete = true
	ictx.Record(userEvent)

	if err := r.persist(ctx, inv, userEvent); err != nil && r.failOnPersistError {
		stop()
		observer.EndSpan(span, err)
		r.release()
		return nil, err
	}

	r.mu.Lock()
	r.activeRuns[invocationID] = inv
	r.mu.Unlock()

	logger.Info("runner.invocation.start", "agent", r.root.Name(), "session", sessionID, "invocation", invocationID)
	metrics.RecordEvent(userEvent)
	inv.events <- userEvent

	go r.drive(ctx, inv, span)

	return inv, nil
}

// Cancel cancels a running invocation by id.
func (r *Runner) Cancel(invocationID string) error {
	r.mu.RLock()
	inv, exists := r.activeRuns[invocationID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrInvocationNotFound, invocationID)
	}

	inv.Cancel()

	return nil
}

func (r *Runner) drive(parent context.Context, inv *Invocation, span trace.Span) {
	ictx := inv.ictx
	start := ictx.StartedAt()
	finished := make(chan struct{})

	defer func() {
		close(finished)
		close(inv.events)

		outcome := metrics.OutcomeOK
		switch {
		case inv.Err() != nil:
			outcome = metrics.OutcomeError
		case ictx.TimedOut():
			outcome = metrics.OutcomeTimeout
		case ictx.Cancelled():
			outcome = metrics.OutcomeCancelled
		}
		metrics.RecordInvocation(outcome, time.Since(start).Seconds())

		if err := r.callbacks.ExecuteCallbacks(context.WithoutCancel(parent), CallbackAfterInvocation, &CallbackContext{
			InvocationContext: ictx,
			SessionID:         inv.sessionID,
		}); err != nil {
			ictx.Logger.Warn("runner.callback.failed", "invocation", inv.id, "callback", CallbackAfterInvocation, "error", err)
		}

		span.SetAttributes(observer.AttrEvents.Int(inv.delivered))
		observer.EndSpan(span, inv.Err())

		ictx.Logger.Info("runner.invocation.complete",
			"invocation", inv.id,
			"outcome", outcome,
			"events", inv.delivered,
			"duration", time.Since(start),
		)

		r.mu.Lock()
		delete(r.activeRuns, inv.id)
		r.mu.Unlock()

		inv.stop()
		r.release()
		close(inv.done)
	}()

	if timeout := ictx.RunConfig().Timeout; timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			ictx.Logger.Warn("runner.invocation.timeout", "invocation", inv.id, "timeout", timeout)
			ictx.Timeout()
		})
		defer timer.Stop()
	}

	// Parent cancellation becomes an invocation-wide cancellation with a
	// recorded cancellation point.
	go func() {
		select {
		case <-parent.Done():
			ictx.Cancel()
		case <-finished:
		}
	}()

	discard := false
	for ev := range r.root.Run(ictx) {
		if discard {
			continue
		}
		if ictx.Cancelled() {
			if at := ictx.CancelledAt(); !at.IsZero() && ev.Timestamp.After(at) {
				continue
			}
		}

		if !ev.Partial {
			if err := r.persist(parent, inv, ev); err != nil && r.failOnPersistError {
				inv.setErr(err)
				ictx.Cancel()
				discard = true
				continue
			}
		}

		if !inv.deliver(ev) {
			continue
		}
		metrics.RecordEvent(ev)
	}
}

// persist appends ev to the session and applies its state delta. Failures are
// logged and collected on the invocation.
func (r *Runner) persist(ctx context.Context, inv *Invocation, ev core.Event) error {
	// Persistence outlives cancellation of the caller's context so that
	// events produced before the cancellation point are still stored.
	ctx = context.WithoutCancel(ctx)

	err := r.runEventCallbacks(ctx, inv, &ev)
	if err == nil {
		err = r.sessionStore.Append(ctx, inv.sessionID, ev)
	}
	if err == nil && len(ev.Actions.StateDelta) > 0 {
		if derr := r.sessionStore.ApplyDelta(ctx, inv.sessionID, ev.Actions.StateDelta); derr != nil {
			err = fmt.Errorf("apply state delta: %w", derr)
		}
	}
	if err == nil {
		return nil
	}

	err = fmt.Errorf("runner: persist event %s: %w", ev.ID, err)
	metrics.RecordPersistFailure()
	inv.ictx.Logger.Error("runner.persist.failed", "invocation", inv.id, "event", ev.ID, "error", err)
	inv.addPersistErr(err)
	return err
}

func (r *Runner) runEventCallbacks(ctx context.Context, inv *Invocation, ev *core.Event) error {
	cc := &CallbackContext{InvocationContext: inv.ictx, Event: ev, SessionID: inv.sessionID}
	if err := r.callbacks.ExecuteCallbacks(ctx, CallbackOnEvent, cc); err != nil {
		return fmt.Errorf("callback %s: %w", CallbackOnEvent, err)
	}
	if len(ev.Actions.StateDelta) == 0 {
		return nil
	}
	if err := r.callbacks.ExecuteCallbacks(ctx, CallbackOnStateChange, cc); err != nil {
		return fmt.Errorf("callback %s: %w", CallbackOnStateChange, err)
	}
	return nil
}

func (r *Runner) loadSession(ctx context.Context, sessionID string) (*core.Session, error) {
	sess, err := r.sessionStore.Get(ctx, sessionID)
	if errors.Is(err, core.ErrSessionNotFound) {
		sess, err = r.sessionStore.Create(ctx, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("runner: load session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (r *Runner) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) release() {
	if r.slots != nil {
		<-r.slots
	}
}
