package model

import (
	"context"

	"golang.org/x/time/rate"
)

// rateLimitedModel blocks each Generate call until the limiter grants a token.
type rateLimitedModel struct {
	inner   Model
	limiter *rate.Limiter
}

// WithRateLimit wraps m so that at most rps requests per second (with the
// given burst) reach the provider. Waiting honors ctx cancellation.
func WithRateLimit(m Model, rps float64, burst int) Model {
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedModel{inner: m, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Generate implements Model.
func (r *rateLimitedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	if err := r.limiter.Wait(ctx); err != nil {
		respCh := make(chan Response)
		errCh := make(chan error, 1)
		errCh <- err
		close(respCh)
		close(errCh)
		return respCh, errCh
	}
	return r.inner.Generate(ctx, req)
}

// Info implements Model.
func (r *rateLimitedModel) Info() Info { return r.inner.Info() }
