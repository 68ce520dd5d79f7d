package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (DataPart) isPart() {}

// FilePart is a file attachment segment.
type FilePart struct {
	File     FilePartFile   `json:"file"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (FilePart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Stable id echoed by the response
	Name      string `json:"name"`                // Tool / function name
	Arguments string `json:"arguments,omitempty"` // Serialized JSON argument object
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall   `json:"function_call"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`       // Matches originating FunctionCall ID
	Name     string `json:"name"`               // Function name
	Response any    `json:"response,omitempty"` // Successful result; JSON-backed stores return it decoded (see SessionStore)
	Error    string `json:"error,omitempty"`    // Populated on failure
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse `json:"function_response"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

func (FunctionResponsePart) isPart() {}

// FilePartFile represents a file attachment segment.
type FilePartFile struct {
	Bytes    string `json:"bytes,omitempty"` // Base64 encoded contents (if inlined)
	MimeType string `json:"mime_type,omitempty"`
	Name     string `json:"name,omitempty"`
	URI      string `json:"uri,omitempty"` // External retrieval URI (if not inlined)
}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"` // Conversation role (user, assistant, tool, system)
	Parts []Part `json:"parts"`
}

// NewTextContent builds a single text part content.
func NewTextContent(role, text string) *Content {
	return &Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// FunctionCalls returns the function call parts in order.
func (c *Content) FunctionCalls() []FunctionCall {
	if c == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

const (
	partTypeText             = "text"
	partTypeData             = "data"
	partTypeFile             = "file"
	partTypeFunctionCall     = "function_call"
	partTypeFunctionResponse = "function_response"
)

type taggedPart struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// MarshalJSON encodes parts with a type tag so stores can round-trip them.
func (c Content) MarshalJSON() ([]byte, error) {
	parts := make([]taggedPart, 0, len(c.Parts))
	for _, p := range c.Parts {
		var typ string
		switch p.(type) {
		case TextPart:
			typ = partTypeText
		case DataPart:
			typ = partTypeData
		case FilePart:
			typ = partTypeFile
		case FunctionCallPart:
			typ = partTypeFunctionCall
		case FunctionResponsePart:
			typ = partTypeFunctionResponse
		default:
			return nil, fmt.Errorf("unknown part type %T", p)
		}
		body, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, taggedPart{Type: typ, Body: body})
	}
	return json.Marshal(struct {
		Role  string       `json:"role,omitempty"`
		Parts []taggedPart `json:"parts"`
	}{Role: c.Role, Parts: parts})
}

// UnmarshalJSON decodes the tagged form written by MarshalJSON.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role  string       `json:"role,omitempty"`
		Parts []taggedPart `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Role = raw.Role
	c.Parts = make([]Part, 0, len(raw.Parts))
	for _, tp := range raw.Parts {
		p, err := decodePart(tp)
		if err != nil {
			return err
		}
		c.Parts = append(c.Parts, p)
	}
	return nil
}

func decodePart(tp taggedPart) (Part, error) {
	switch tp.Type {
	case partTypeText:
		var p TextPart
		err := json.Unmarshal(tp.Body, &p)
		return p, err
	case partTypeData:
		var p DataPart
		err := json.Unmarshal(tp.Body, &p)
		return p, err
	case partTypeFile:
		var p FilePart
		err := json.Unmarshal(tp.Body, &p)
		return p, err
	case partTypeFunctionCall:
		var p FunctionCallPart
		err := json.Unmarshal(tp.Body, &p)
		return p, err
	case partTypeFunctionResponse:
		var p FunctionResponsePart
		err := json.Unmarshal(tp.Body, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown part type %q", tp.Type)
	}
}
