package model

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/agenttree/core"
)

// IsTransientStatus reports whether an HTTP status code is worth retrying:
// request timeout, rate limiting and server side failures.
func IsTransientStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status == 529: // provider overloaded
		return true
	case status >= 500 && status <= 599 && status != http.StatusNotImplemented:
		return true
	default:
		return false
	}
}

// ClassifyStatus wraps err as a *core.TransientProviderError when status is
// retryable and returns it unchanged otherwise.
func ClassifyStatus(provider string, status int, retryAfter time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if IsTransientStatus(status) {
		return &core.TransientProviderError{Provider: provider, StatusCode: status, RetryAfter: retryAfter, Err: err}
	}
	return err
}

// ClassifyError marks network timeouts as transient. Cancellation and errors
// that are already classified pass through unchanged.
func ClassifyError(provider string, err error) error {
	if err == nil || core.IsTransient(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &core.TransientProviderError{Provider: provider, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.TransientProviderError{Provider: provider, Err: err}
	}

	return err
}

// ParseRetryAfter parses a Retry-After header value (seconds or HTTP date).
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RetryAfterFromResponse reads the Retry-After header of resp, if any.
func RetryAfterFromResponse(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	return ParseRetryAfter(resp.Header.Get("Retry-After"))
}
