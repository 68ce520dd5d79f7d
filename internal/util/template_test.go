package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		state map[string]any
		want  string
	}{
		{name: "plain", text: "hello", want: "hello"},
		{name: "value", text: "hi {{.user}}", state: map[string]any{"user": "ada"}, want: "hi ada"},
		{name: "missing", text: "hi {{.user}}!", want: "hi !"},
		{name: "default", text: `{{default "guest" .user}}`, want: "guest"},
		{name: "upper", text: "{{upper .x}}", state: map[string]any{"x": "go"}, want: "GO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderTemplate(tt.text, tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderTemplateParseError(t *testing.T) {
	_, err := RenderTemplate("{{.x", nil)
	assert.Error(t, err)
}
