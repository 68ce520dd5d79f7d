package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agenttree/core"
)

// Turn is one scripted model reply.
type Turn struct {
	// Chunks are emitted as partial responses when the request streams.
	Chunks []string
	// Text is the final assistant text. Defaults to the concatenated chunks.
	Text string
	// Calls are function calls placed in the final response.
	Calls []core.FunctionCall
	// Err is sent instead of the final response, after any chunks.
	Err error
}

// TextTurn returns a turn replying with text.
func TextTurn(text string) Turn { return Turn{Text: text} }

// StreamTurn returns a turn streaming chunks and finishing with their concatenation.
func StreamTurn(chunks ...string) Turn { return Turn{Chunks: chunks} }

// ToolCallTurn returns a turn requesting the given function calls.
func ToolCallTurn(calls ...core.FunctionCall) Turn { return Turn{Calls: calls} }

// ErrorTurn returns a turn failing with err.
func ErrorTurn(err error) Turn { return Turn{Err: err} }

// ScriptedModel is a deterministic, in-memory Model replaying a queue of turns.
// It records every request it receives. Useful for tests, examples and dry runs.
type ScriptedModel struct {
	info       Info
	mu         sync.Mutex
	turns      []Turn
	next       int
	repeatLast bool
	requests   []Request
}

// NewScriptedModel constructs a ScriptedModel replaying turns in order.
func NewScriptedModel(name string, turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: name, Provider: "scripted", SupportsTools: true},
		turns: turns,
	}
}

// RepeatLast makes the model replay its final turn once the queue is exhausted.
func (m *ScriptedModel) RepeatLast() *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeatLast = true
	return m
}

// Append adds turns to the end of the queue.
func (m *ScriptedModel) Append(turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

// Requests returns a copy of all received requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate invocations.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *ScriptedModel) pop(req Request) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if m.next < len(m.turns) {
		t := m.turns[m.next]
		m.next++
		return t, nil
	}
	if m.repeatLast && len(m.turns) > 0 {
		return m.turns[len(m.turns)-1], nil
	}
	return Turn{}, fmt.Errorf("scripted model %s: no turn left (call %d)", m.info.Name, len(m.requests))
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		turn, err := m.pop(req)
		if err != nil {
			errCh <- err
			return
		}

		send := func(r Response) bool {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case respCh <- r:
				return true
			}
		}

		text := turn.Text
		for _, c := range turn.Chunks {
			if req.Stream && !send(Response{Partial: true, Content: *core.NewTextContent(core.RoleAssistant, c)}) {
				return
			}
			if turn.Text == "" {
				text += c
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		content := core.Content{Role: core.RoleAssistant}
		if text != "" {
			content.Parts = append(content.Parts, core.TextPart{Text: text})
		}
		for _, c := range turn.Calls {
			if c.ID == "" {
				c.ID = core.NewID()
			}
			content.Parts = append(content.Parts, core.FunctionCallPart{FunctionCall: c})
		}

		finish := "stop"
		if len(turn.Calls) > 0 {
			finish = "tool_calls"
		}

		send(Response{ID: core.NewID(), Content: content, FinishReason: finish})
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
