package app

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agenttree/internal/config"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/model/anthropic"
	"github.com/hupe1980/agenttree/model/gemini"
	"github.com/hupe1980/agenttree/model/openai"
)

// NewRegistry registers the Anthropic, OpenAI and Gemini providers under their
// model name prefixes, using the keys from cfg. Provider SDKs fall back to
// their own environment variables when a key is empty.
func NewRegistry(ctx context.Context, cfg config.ModelConfig) *model.Registry {
	r := model.NewRegistry()

	r.Register("claude", func(name string) (model.Model, error) {
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(name)
			o.APIKey = cfg.AnthropicAPIKey
		}), nil
	})

	newOpenAI := func(name string) (model.Model, error) {
		return openai.NewModel(func(o *openai.Options) {
			o.Model = name
			o.APIKey = cfg.OpenAIAPIKey
			o.BaseURL = cfg.OpenAIBaseURL
		}), nil
	}
	for _, prefix := range []string{"gpt", "o1", "o3", "o4"} {
		r.Register(prefix, newOpenAI)
	}

	r.Register("gemini", func(name string) (model.Model, error) {
		return gemini.NewModel(ctx, func(o *gemini.Options) {
			o.Model = name
			o.APIKey = cfg.GeminiAPIKey
		})
	})

	return r
}
