package model

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
)

func collect(t *testing.T) func(respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	return func(respCh <-chan Response, errCh <-chan error) ([]Response, error) {
		var out []Response
		for r := range respCh {
			out = append(out, r)
		}
		return out, <-errCh
	}
}

func TestScriptedModel_StreamTurn(t *testing.T) {
	m := NewScriptedModel("test", StreamTurn("he", "llo"))

	resps, err := collect(t)(m.Generate(context.Background(), Request{Stream: true}))
	require.NoError(t, err)
	require.Len(t, resps, 3)
	assert.True(t, resps[0].Partial)
	assert.True(t, resps[1].Partial)
	assert.False(t, resps[2].Partial)
	assert.Equal(t, "hello", resps[2].Content.Text())
	assert.Equal(t, "stop", resps[2].FinishReason)
}

func TestScriptedModel_NonStreamingSkipsChunks(t *testing.T) {
	m := NewScriptedModel("test", StreamTurn("he", "llo"))

	resps, err := collect(t)(m.Generate(context.Background(), Request{}))
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.Equal(t, "hello", resps[0].Content.Text())
}

func TestScriptedModel_ToolCallTurnAssignsIDs(t *testing.T) {
	m := NewScriptedModel("test", ToolCallTurn(core.FunctionCall{Name: "echo", Arguments: `{"value":1}`}))

	resps, err := collect(t)(m.Generate(context.Background(), Request{}))
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.Equal(t, "tool_calls", resps[0].FinishReason)

	var calls []core.FunctionCall
	for _, p := range resps[0].Content.Parts {
		if fc, ok := p.(core.FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ID)
}

func TestScriptedModel_ExhaustedAndRepeat(t *testing.T) {
	m := NewScriptedModel("test", TextTurn("once"))
	_, err := collect(t)(m.Generate(context.Background(), Request{}))
	require.NoError(t, err)
	_, err = collect(t)(m.Generate(context.Background(), Request{}))
	assert.Error(t, err)
	assert.Equal(t, 2, m.Calls())

	r := NewScriptedModel("test", TextTurn("again")).RepeatLast()
	for i := 0; i < 3; i++ {
		resps, err := collect(t)(r.Generate(context.Background(), Request{}))
		require.NoError(t, err)
		assert.Equal(t, "again", resps[0].Content.Text())
	}
}

func TestScriptedModel_ErrorTurn(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedModel("test", ErrorTurn(boom))

	resps, err := collect(t)(m.Generate(context.Background(), Request{}))
	assert.Empty(t, resps)
	assert.ErrorIs(t, err, boom)
}

func TestIsTransientStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusNotImplemented, false},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{529, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransientStatus(tt.status), "status %d", tt.status)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	base := errors.New("upstream")

	err := ClassifyStatus("openai", http.StatusTooManyRequests, 2*time.Second, base)
	var te *core.TransientProviderError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2*time.Second, te.RetryAfter)
	assert.ErrorIs(t, err, base)

	assert.Same(t, base, ClassifyStatus("openai", http.StatusBadRequest, 0, base))
	assert.NoError(t, ClassifyStatus("openai", http.StatusTooManyRequests, 0, nil))

	assert.True(t, core.IsTransient(ClassifyError("gemini", timeoutErr{})))
	assert.False(t, core.IsTransient(ClassifyError("gemini", context.Canceled)))
	assert.False(t, core.IsTransient(ClassifyError("gemini", base)))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, ParseRetryAfter("3"))
	assert.Zero(t, ParseRetryAfter(""))
	assert.Zero(t, ParseRetryAfter("soon"))
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, ParseRetryAfter(future), 30*time.Minute)
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	r.Register("gpt", func(name string) (Model, error) { return NewScriptedModel("openai:" + name), nil })
	r.Register("gpt-4o", func(name string) (Model, error) { return NewScriptedModel("special:" + name), nil })

	m, err := r.Resolve("GPT-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "special:GPT-4o-mini", m.Info().Name)

	m, err = r.Resolve("gpt-3.5")
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-3.5", m.Info().Name)

	_, err = r.Resolve("llama")
	var cfgErr *core.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"gpt", "gpt-4o"}, r.Prefixes())
}

func TestWithRateLimit(t *testing.T) {
	inner := NewScriptedModel("test", TextTurn("a"), TextTurn("b"))
	m := WithRateLimit(inner, 1000, 1)
	assert.Equal(t, "test", m.Info().Name)

	for _, want := range []string{"a", "b"} {
		resps, err := collect(t)(m.Generate(context.Background(), Request{}))
		require.NoError(t, err)
		assert.Equal(t, want, resps[0].Content.Text())
	}

	slow := WithRateLimit(NewScriptedModel("test", TextTurn("x"), TextTurn("y")), 0.001, 1)
	_, err := collect(t)(slow.Generate(context.Background(), Request{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = collect(t)(slow.Generate(ctx, Request{}))
	assert.Error(t, err)
}
