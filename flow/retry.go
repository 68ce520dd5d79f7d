package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/metrics"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/observer"
)

var errNoResponse = errors.New("model returned no final response")

// delayedRetry keeps a transient error classifiable while asking backoff to
// wait for the provider's Retry-After.
type delayedRetry struct {
	err   error
	after *backoff.RetryAfterError
}

func (d *delayedRetry) Error() string   { return d.err.Error() }
func (d *delayedRetry) Unwrap() []error { return []error{d.err, d.after} }

// callModel performs one logical model call. Partial chunks are emitted as
// they arrive. Transient failures are retried with exponential backoff unless
// partial output was already emitted. On failure the terminal error event is
// emitted (nothing on cancellation) and ok is false.
func (f *Flow) callModel(ictx *core.InvocationContext, agent FlowAgent, req model.Request, out chan<- core.Event) (model.Response, bool) {
	cfg := ictx.RunConfig()
	m := agent.Model()
	if m == nil {
		ictx.Emit(out, ictx.NewErrorEvent(agent.Name(), core.CodeAgentError, fmt.Errorf("agent %s has no model", agent.Name())))
		return model.Response{}, false
	}
	info := m.Info()

	ctx, span := observer.StartSpan(ictx.Context(), observer.SpanModelCall,
		observer.AttrAgent.String(agent.Name()),
		observer.AttrBranch.String(ictx.Branch),
		observer.AttrModel.String(info.Name),
		observer.AttrProvider.String(info.Provider),
	)

	attempts := 0
	emitted := false

	op := func() (model.Response, error) {
		attempts++
		ictx.CountModelCall()

		resp, partials, err := generate(ctx, ictx, agent, m, req, out)
		emitted = emitted || partials
		if err == nil {
			return resp, nil
		}
		if ictx.Stopped() || core.IsCancellation(err) {
			return model.Response{}, backoff.Permanent(core.ErrCancelled)
		}
		if !core.IsTransient(err) || emitted {
			return model.Response{}, backoff.Permanent(err)
		}

		var te *core.TransientProviderError
		if errors.As(err, &te) && te.RetryAfter > 0 {
			wait := min(te.RetryAfter, cfg.RetryMaxDelay)
			return model.Response{}, &delayedRetry{err: err, after: &backoff.RetryAfterError{Duration: wait}}
		}
		return model.Response{}, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     cfg.RetryBaseDelay,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         cfg.RetryMaxDelay,
		}),
		backoff.WithMaxTries(uint(max(cfg.MaxModelRetries, 0)+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.RecordModelRetry(info.Provider)
			ictx.Logger.Warn("flow.model.retry", "agent", agent.Name(), "provider", info.Provider,
				"attempt", attempts, "delay_ms", next.Milliseconds(), "error", err.Error())
		}),
	)

	span.SetAttributes(observer.AttrAttempts.Int(attempts))

	switch {
	case err == nil:
		metrics.RecordModelCall(info.Provider, metrics.OutcomeOK)
		observer.EndSpan(span, nil)
		return resp, true
	case ictx.Stopped() || core.IsCancellation(err):
		metrics.RecordModelCall(info.Provider, metrics.OutcomeCancelled)
		span.SetAttributes(attribute.Bool("agenttree.cancelled", true))
		observer.EndSpan(span, nil)
		return model.Response{}, false
	case core.IsTransient(err):
		metrics.RecordModelCall(info.Provider, metrics.OutcomeTransient)
		observer.EndSpan(span, err)
		ictx.Logger.Error("flow.model.failed", "agent", agent.Name(), "provider", info.Provider, "attempts", attempts, "error", err.Error())
		ictx.Emit(out, ictx.NewErrorEvent(agent.Name(), core.CodeModelTransient, err))
		return model.Response{}, false
	default:
		metrics.RecordModelCall(info.Provider, metrics.OutcomeError)
		observer.EndSpan(span, err)
		ictx.Logger.Error("flow.model.failed", "agent", agent.Name(), "provider", info.Provider, "attempts", attempts, "error", err.Error())
		ictx.Emit(out, ictx.NewErrorEvent(agent.Name(), core.CodeModelError, err))
		return model.Response{}, false
	}
}

// generate runs a single Generate call. It reports whether any partial event
// was emitted.
func generate(ctx context.Context, ictx *core.InvocationContext, agent FlowAgent, m model.Model, req model.Request, out chan<- core.Event) (model.Response, bool, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final   *model.Response
		emitted bool
	)

	for done := false; !done; {
		select {
		case <-ctx.Done():
			go drain(respCh)
			return model.Response{}, emitted, core.ErrCancelled
		case resp, ok := <-respCh:
			if !ok {
				done = true
				break
			}
			if !resp.Partial {
				r := resp
				final = &r
				continue
			}
			ev := ictx.NewEvent(agent.Name())
			content := resp.Content
			ev.Content = &content
			ev.Partial = true
			if !ictx.Emit(out, ev) {
				go drain(respCh)
				return model.Response{}, emitted, core.ErrCancelled
			}
			emitted = true
		}
	}

	if err := <-errCh; err != nil {
		return model.Response{}, emitted, err
	}
	if final == nil {
		return model.Response{}, emitted, errNoResponse
	}
	return *final, emitted, nil
}

func drain(ch <-chan model.Response) {
	for range ch {
	}
}
