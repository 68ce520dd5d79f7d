package core

import "time"

// RunConfig controls a single invocation. Zero fields are replaced by the
// defaults from DefaultRunConfig when the invocation starts.
type RunConfig struct {
	// MaxRoundTrips bounds model/tool round trips per LlmAgent run.
	MaxRoundTrips int
	// Timeout cancels the invocation when elapsed. Zero disables it.
	Timeout time.Duration
	// Streaming requests partial model output.
	Streaming bool
	// MaxLoopIterations is used by loop agents constructed without an explicit maximum.
	MaxLoopIterations int

	// MaxModelRetries bounds retries of transient model errors. Negative
	// disables retries.
	MaxModelRetries    int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	MaxToolConcurrency int
	EventBuffer        int
}

// DefaultRunConfig returns the default run configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxRoundTrips:      10,
		MaxLoopIterations:  10,
		MaxModelRetries:    3,
		RetryBaseDelay:     500 * time.Millisecond,
		RetryMaxDelay:      10 * time.Second,
		MaxToolConcurrency: 4,
		EventBuffer:        64,
	}
}

// WithDefaults fills zero fields from DefaultRunConfig.
func (c RunConfig) WithDefaults() RunConfig {
	d := DefaultRunConfig()
	if c.MaxRoundTrips <= 0 {
		c.MaxRoundTrips = d.MaxRoundTrips
	}
	if c.MaxLoopIterations <= 0 {
		c.MaxLoopIterations = d.MaxLoopIterations
	}
	if c.MaxModelRetries == 0 {
		c.MaxModelRetries = d.MaxModelRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.MaxToolConcurrency <= 0 {
		c.MaxToolConcurrency = d.MaxToolConcurrency
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}
