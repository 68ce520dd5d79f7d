package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/logging"
)

type memArtifacts struct {
	data map[string][]byte
}

func (m *memArtifacts) Save(_ context.Context, sid, aid string, b []byte) (int, error) {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[sid+"/"+aid] = append([]byte(nil), b...)
	return 3, nil
}

func (m *memArtifacts) Get(_ context.Context, sid, aid string) ([]byte, error) {
	b, ok := m.data[sid+"/"+aid]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (m *memArtifacts) List(context.Context, string) ([]string, error) { return nil, nil }
func (m *memArtifacts) Delete(context.Context, string, string) error    { return nil }

func TestToolContext_StateAndActions(t *testing.T) {
	sess := NewSession("s1")
	sess.SetState("k", "persisted")
	ic := NewInvocationContext(context.Background(), InvocationParams{Session: sess})
	tc := NewToolContext(context.Background(), ic, "worker", "call-1")

	v, ok := tc.GetState("k")
	require.True(t, ok)
	assert.Equal(t, "persisted", v)

	tc.SetState("k", "staged")
	v, _ = tc.GetState("k")
	assert.Equal(t, "staged", v)

	tc.Escalate()
	tc.TerminateLoop()
	tc.EndInvocation()

	a := tc.Actions()
	assert.Equal(t, "staged", a.StateDelta["k"])
	assert.True(t, a.Escalate)
	assert.True(t, a.TerminateLoop)
	assert.True(t, a.EndInvocation)
	assert.Equal(t, "call-1", tc.FunctionCallID())
	assert.Equal(t, "worker", tc.AgentName())
	assert.Equal(t, "s1", tc.SessionID())
}

func TestToolContext_Artifacts(t *testing.T) {
	store := &memArtifacts{}
	ic := NewInvocationContext(context.Background(), InvocationParams{Session: NewSession("s1"), Artifacts: store})
	tc := NewToolContext(context.Background(), ic, "worker", "call-1")

	version, err := tc.SaveArtifact("report.txt", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, 3, tc.Actions().ArtifactDelta["report.txt"])

	b, err := tc.LoadArtifact("report.txt")
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
}

func TestToolContext_NoArtifactStore(t *testing.T) {
	ic := NewInvocationContext(context.Background(), InvocationParams{})
	tc := NewToolContext(context.Background(), ic, "worker", "call-1")

	_, err := tc.SaveArtifact("x", nil)
	assert.Error(t, err)
}

func TestToolContext_LoggerTagsCall(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})

	ic := NewInvocationContext(context.Background(), InvocationParams{Session: NewSession("s1"), Logger: logger})
	ic.Branch = "root.worker"
	tc := NewToolContext(context.Background(), ic, "worker", "call-7")

	tc.Logger().Info("tool.progress", "step", 2)
	tc.Escalate()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "tool.progress", rec["msg"])
	assert.Equal(t, "worker", rec["agent"])
	assert.Equal(t, "root.worker", rec["branch"])
	assert.Equal(t, "call-7", rec["function_call_id"])
	assert.Equal(t, float64(2), rec["step"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "tool.escalate.request", rec["msg"])
	assert.Equal(t, "call-7", rec["function_call_id"])
}
