// Package fake provides a scripted llms.Model for tests and demos.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llmutils"
)

// Model returns the scripted responses in order.
// When the script is exhausted it echoes the last user text as
// "I received: <text>".
type Model struct {
	lock      sync.Mutex
	responses []Response
	calls     []Call
}

// Response is one scripted step: a response or an error
type Response struct {
	Content *llms.ContentResponse
	Err     error
}

// Call is a recorded GenerateContent call
type Call struct {
	Messages []llms.Message
	Options  *llms.CallOptions
}

var _ llms.Model = (*Model)(nil)

// New returns a model with the scripted responses
func New(responses ...*llms.ContentResponse) *Model {
	m := &Model{}
	for _, r := range responses {
		m.responses = append(m.responses, Response{Content: r})
	}
	return m
}

// Then appends a scripted response
func (m *Model) Then(resp *llms.ContentResponse) *Model {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.responses = append(m.responses, Response{Content: resp})
	return m
}

// ThenError appends a scripted failure
func (m *Model) ThenError(err error) *Model {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.responses = append(m.responses, Response{Err: err})
	return m
}

// Calls returns the recorded calls
func (m *Model) Calls() []Call {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]Call(nil), m.calls...)
}

// GetProviderType implements llms.Model
func (m *Model) GetProviderType() llms.ProviderType {
	return llms.ProviderFake
}

// GenerateContent implements llms.Model
func (m *Model) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.calls = append(m.calls, Call{
		Messages: append([]llms.Message(nil), messages...),
		Options:  llms.NewCallOptions(options...),
	})

	if len(m.responses) > 0 {
		next := m.responses[0]
		m.responses = m.responses[1:]
		return next.Content, next.Err
	}
	return TextResponse(fmt.Sprintf("I received: %s", llmutils.LastUserText(messages))), nil
}

// TextResponse returns a final text response
func TextResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content:    text,
				StopReason: "end_turn",
			},
		},
	}
}

// ToolCallsResponse returns a response requesting the tool calls
func ToolCallsResponse(calls ...llms.ToolCall) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				ToolCalls:  calls,
				StopReason: "tool_use",
			},
		},
	}
}

// ToolCall returns a function call with the id, name and JSON arguments
func ToolCall(id, name, arguments string) llms.ToolCall {
	return llms.ToolCall{
		ID:   id,
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}
