package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/model"
)

func TestBuildMessages(t *testing.T) {
	req := model.Request{
		Instructions: "be brief",
		Contents: []core.Content{
			*core.NewTextContent(core.RoleUser, "weather?"),
			{Role: core.RoleAssistant, Parts: []core.Part{
				core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "weather"}},
			}},
			{Role: core.RoleTool, Parts: []core.Part{
				core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "weather", Response: map[string]any{"temp": 21}}},
			}},
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 4)

	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "{}", msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, "error: boom", responseText(core.FunctionResponse{Error: "boom"}))
	assert.Equal(t, "ok", responseText(core.FunctionResponse{Response: "ok"}))
	assert.Equal(t, `{"a":1}`, responseText(core.FunctionResponse{Response: map[string]any{"a": 1}}))
}

func TestBuildParamsTools(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "test" })
	params := m.buildParams(model.Request{Tools: []model.ToolDefinition{{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:       "weather",
			Parameters: map[string]any{"type": "object"},
		},
	}}})

	require.Len(t, params.Tools, 1)
	assert.Equal(t, "weather", params.Tools[0].Function.Name)
	assert.Equal(t, "openai", m.Info().Provider)
}
