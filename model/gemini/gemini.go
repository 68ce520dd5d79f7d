// Package gemini provides a model.Model backed by the Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/model"
)

const providerName = "gemini"

// Options configures the Gemini model adapter.
type Options struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	APIKey          string
}

// Model wraps genai.Client.Models behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:           "gemini-2.5-flash",
		Temperature:     0.7,
		MaxOutputTokens: 4096,
	}
}

// NewModel creates a Gemini model talking to the Gemini Developer API. An empty
// APIKey falls back to the SDK's environment lookup.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Model{client: client, opts: opts}, nil
}

// NewModelFromClient creates a Gemini model from an existing client.
func NewModelFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		contents := buildContents(req.Contents)
		config := m.buildConfig(req)

		var (
			final model.Response
			err   error
		)
		if req.Stream {
			final, err = m.stream(ctx, contents, config, out)
		} else {
			var resp *genai.GenerateContentResponse
			resp, err = m.client.Models.GenerateContent(ctx, m.opts.Model, contents, config)
			if err == nil {
				final = toResponse(resp)
			}
		}
		if err != nil {
			errCh <- classify(err)
			return
		}

		select {
		case out <- final:
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

// stream forwards text as partials and folds every chunk into one final response.
func (m *Model) stream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, out chan<- model.Response) (model.Response, error) {
	var (
		text  strings.Builder
		calls []core.Part
		last  *genai.GenerateContentResponse
	)

	for resp, err := range m.client.Models.GenerateContentStream(ctx, m.opts.Model, contents, config) {
		if err != nil {
			return model.Response{}, err
		}
		last = resp

		chunk := toResponse(resp)
		for _, p := range chunk.Content.Parts {
			switch part := p.(type) {
			case core.TextPart:
				text.WriteString(part.Text)
				select {
				case out <- model.Response{Partial: true, Content: *core.NewTextContent(core.RoleAssistant, part.Text)}:
				case <-ctx.Done():
					return model.Response{}, ctx.Err()
				}
			case core.FunctionCallPart:
				calls = append(calls, part)
			}
		}
	}

	final := model.Response{Content: core.Content{Role: core.RoleAssistant}, FinishReason: "stop"}
	if text.Len() > 0 {
		final.Content.Parts = append(final.Content.Parts, core.TextPart{Text: text.String()})
	}
	final.Content.Parts = append(final.Content.Parts, calls...)
	if last != nil {
		summary := toResponse(last)
		final.ID = summary.ID
		final.Usage = summary.Usage
		final.FinishReason = summary.FinishReason
	}
	if len(calls) > 0 {
		final.FinishReason = "tool_calls"
	}

	return final, nil
}

func toResponse(resp *genai.GenerateContentResponse) model.Response {
	out := model.Response{
		ID:           resp.ResponseID,
		Content:      core.Content{Role: core.RoleAssistant},
		FinishReason: "stop",
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		cand := resp.Candidates[0]
		if cand.FinishReason != "" {
			out.FinishReason = strings.ToLower(string(cand.FinishReason))
		}
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				switch {
				case p == nil:
				case p.FunctionCall != nil:
					args := "{}"
					if b, err := json.Marshal(p.FunctionCall.Args); err == nil && p.FunctionCall.Args != nil {
						args = string(b)
					}
					id := p.FunctionCall.ID
					if id == "" {
						id = core.NewID()
					}
					out.Content.Parts = append(out.Content.Parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
						ID:        id,
						Name:      p.FunctionCall.Name,
						Arguments: args,
					}})
				case p.Text != "" && !p.Thought:
					out.Content.Parts = append(out.Content.Parts, core.TextPart{Text: p.Text})
				}
			}
		}
	}

	if len(out.Content.FunctionCalls()) > 0 {
		out.FinishReason = "tool_calls"
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &model.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	return out
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(providerName, apiErr.Code, 0, fmt.Errorf("gemini api error: %w", err))
	}
	return model.ClassifyError(providerName, fmt.Errorf("gemini api error: %w", err))
}

func (m *Model) buildConfig(req model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(m.opts.Temperature),
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}

	var system []string
	if req.Instructions != "" {
		system = append(system, req.Instructions)
	}
	for _, c := range req.Contents {
		if c.Role == core.RoleSystem {
			if t := c.Text(); t != "" {
				system = append(system, t)
			}
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
			}
			if t.Function.Parameters != nil {
				decl.ParametersJsonSchema = t.Function.Parameters
			}
			decls = append(decls, decl)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return config
}

// buildContents maps roles onto Gemini's user/model pair. Tool results are
// sent as user turns carrying function responses.
func buildContents(contents []core.Content) []*genai.Content {
	var out []*genai.Content

	for _, c := range contents {
		var (
			parts []*genai.Part
			role  genai.Role = genai.RoleUser
		)

		switch c.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			role = genai.RoleModel
		}

		for _, p := range c.Parts {
			switch part := p.(type) {
			case core.TextPart:
				if part.Text != "" {
					parts = append(parts, genai.NewPartFromText(part.Text))
				}
			case core.DataPart:
				if b, err := json.Marshal(part.Data); err == nil {
					parts = append(parts, genai.NewPartFromText(string(b)))
				}
			case core.FilePart:
				switch {
				case part.File.Bytes != "":
					if data, err := base64.StdEncoding.DecodeString(part.File.Bytes); err == nil {
						parts = append(parts, genai.NewPartFromBytes(data, part.File.MimeType))
					}
				case part.File.URI != "":
					parts = append(parts, genai.NewPartFromURI(part.File.URI, part.File.MimeType))
				}
			case core.FunctionCallPart:
				args := map[string]any{}
				if part.FunctionCall.Arguments != "" {
					_ = json.Unmarshal([]byte(part.FunctionCall.Arguments), &args)
				}
				gp := genai.NewPartFromFunctionCall(part.FunctionCall.Name, args)
				gp.FunctionCall.ID = part.FunctionCall.ID
				parts = append(parts, gp)
			case core.FunctionResponsePart:
				gp := genai.NewPartFromFunctionResponse(part.FunctionResponse.Name, responseMap(part.FunctionResponse))
				gp.FunctionResponse.ID = part.FunctionResponse.ID
				parts = append(parts, gp)
			}
		}

		if len(parts) > 0 {
			out = append(out, genai.NewContentFromParts(parts, role))
		}
	}

	return out
}

func responseMap(fr core.FunctionResponse) map[string]any {
	if fr.Error != "" {
		return map[string]any{"error": fr.Error}
	}
	if m, ok := fr.Response.(map[string]any); ok {
		return m
	}
	return map[string]any{"output": fr.Response}
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      providerName,
		SupportsTools: true,
	}
}
