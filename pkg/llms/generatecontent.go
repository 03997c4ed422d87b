package llms

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnexpectedRole is returned when a message role is of an unexpected type.
var ErrUnexpectedRole = errors.New("unexpected role")

// Role is the author of a conversation turn.
type Role string

const (
	// RoleSystem is the system prompt.
	RoleSystem Role = "system"
	// RoleUser is a message sent by the user.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model: text and tool calls.
	RoleAssistant Role = "assistant"
	// RoleTool carries the results of tool calls.
	RoleTool Role = "tool"
)

// Valid returns true for a known role
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one turn of a conversation. It has a role and a
// sequence of parts. For example, a user turn holds TextContent parts, an
// assistant turn may hold ToolCall parts, and a tool turn holds one
// ToolCallResponse per answered call.
type Message struct {
	Role  Role
	Parts []ContentPart
}

// TextPart creates TextContent from a given string.
func TextPart(s string) TextContent {
	return TextContent{Text: s}
}

// BinaryPart creates a new BinaryContent from the given MIME type (e.g.
// "image/png" and binary data).
func BinaryPart(mime string, data []byte) BinaryContent {
	return BinaryContent{
		MIMEType: mime,
		Data:     data,
	}
}

// ImageURLPart creates a new ImageURLContent from the given URL.
func ImageURLPart(url string) ImageURLContent {
	return ImageURLContent{
		URL: url,
	}
}

// ContentPart is an interface all parts of content have to implement.
type ContentPart interface {
	isPart()
}

// TextContent is content with some text.
type TextContent struct {
	Text string
}

func (tc TextContent) String() string {
	return tc.Text
}

func (TextContent) isPart() {}

// ImageURLContent is content with an URL pointing to an image.
type ImageURLContent struct {
	URL string
	// Detail is the detail of the image, e.g. "low", "high".
	Detail string
}

func (iuc ImageURLContent) String() string {
	return iuc.URL
}

func (ImageURLContent) isPart() {}

// BinaryContent is content holding some binary data with a MIME type.
type BinaryContent struct {
	MIMEType string
	Data     []byte
}

func (bc BinaryContent) String() string {
	return "data:" + bc.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(bc.Data)
}

func (BinaryContent) isPart() {}

// FunctionCall is the name and arguments of a function call.
type FunctionCall struct {
	// The name of the function to call.
	Name string `json:"name"`
	// The arguments to pass to the function, as a JSON string.
	Arguments string `json:"arguments"`
}

// ToolCall is a call to a tool (as requested by the model) that should be executed.
type ToolCall struct {
	// ID is the unique identifier of the tool call, it correlates the call with its response.
	ID string
	// Type is the type of the tool call. Typically, this would be "function".
	Type string
	// FunctionCall is the function call to be executed.
	FunctionCall *FunctionCall
}

// Name returns the name of the called function
func (tc ToolCall) Name() string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Name
}

// Arguments returns the JSON arguments of the call
func (tc ToolCall) Arguments() string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Arguments
}

func (tc ToolCall) String() string {
	return fmt.Sprintf("ToolCall: %s (%s), input: %s", tc.ID, tc.Name(), tc.Arguments())
}

func (ToolCall) isPart() {}

// ToolCallResponse is the response returned by a tool call.
type ToolCallResponse struct {
	// ToolCallID is the ID of the tool call this response is for.
	ToolCallID string
	// Name is the name of the tool that was called.
	Name string
	// Content is the textual content of the response.
	Content string
	// IsError is set when the tool failed, Content describes the failure.
	IsError bool
}

func (tc ToolCallResponse) String() string {
	return fmt.Sprintf("ToolCallResponse: %s (%s), error: %t, response size: %d", tc.ToolCallID, tc.Name, tc.IsError, len(tc.Content))
}

func (ToolCallResponse) isPart() {}

// ContentResponse is the response returned by a GenerateContent call.
// It can potentially return multiple content choices.
type ContentResponse struct {
	Choices []*ContentChoice
}

// ContentChoice is one of the response choices returned by GenerateContent
// calls.
type ContentChoice struct {
	// Content is the textual content of a response
	Content string `json:"content"`

	// StopReason is the reason the model stopped generating output.
	StopReason string `json:"stop_reason"`

	// GenerationInfo is arbitrary information the model adds to the response.
	// Providers report token usage as InputTokens and OutputTokens.
	GenerationInfo map[string]any `json:"generation_info"`

	// ToolCalls is a list of tool calls the model asks to invoke.
	ToolCalls []ToolCall `json:"tool_calls"`
}

// Text returns the text of all choices
func (r *ContentResponse) Text() string {
	var parts []string
	for _, c := range r.Choices {
		if c.Content != "" {
			parts = append(parts, c.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCalls returns the tool calls of all choices, in the order the model issued them
func (r *ContentResponse) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, c := range r.Choices {
		calls = append(calls, c.ToolCalls...)
	}
	return calls
}

// Usage returns the input and output tokens reported in the generation info
func (r *ContentResponse) Usage() (input, output int64) {
	for _, c := range r.Choices {
		input = max(input, toInt64(c.GenerationInfo["InputTokens"]))
		output = max(output, toInt64(c.GenerationInfo["OutputTokens"]))
	}
	return
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

// MessageFromParts is a helper function to create a Message with a role and a
// list of parts.
func MessageFromParts(role Role, parts ...ContentPart) Message {
	return Message{
		Role:  role,
		Parts: parts,
	}
}

// MessageFromTextParts is a helper function to create a Message with a role and a
// list of text parts.
func MessageFromTextParts(role Role, parts ...string) Message {
	result := Message{
		Role:  role,
		Parts: make([]ContentPart, 0, len(parts)),
	}
	for _, part := range parts {
		result.Parts = append(result.Parts, TextPart(part))
	}
	return result
}

// MessageFromToolCalls creates an assistant Message with the text, if any, and the tool calls.
func MessageFromToolCalls(text string, toolCalls ...ToolCall) Message {
	result := Message{
		Role:  RoleAssistant,
		Parts: make([]ContentPart, 0, len(toolCalls)+1),
	}
	if text != "" {
		result.Parts = append(result.Parts, TextPart(text))
	}
	for _, toolCall := range toolCalls {
		result.Parts = append(result.Parts, toolCall)
	}
	return result
}

// MessageFromToolResponses creates a tool Message with the responses in the given order.
func MessageFromToolResponses(responses ...ToolCallResponse) Message {
	result := Message{
		Role:  RoleTool,
		Parts: make([]ContentPart, 0, len(responses)),
	}
	for _, r := range responses {
		result.Parts = append(result.Parts, r)
	}
	return result
}

// ToolCalls returns the tool call parts of the message
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolResponses returns the tool response parts of the message
func (m Message) ToolResponses() []ToolCallResponse {
	var list []ToolCallResponse
	for _, p := range m.Parts {
		if tr, ok := p.(ToolCallResponse); ok {
			list = append(list, tr)
		}
	}
	return list
}

// GetContent returns a printable rendering of the message
func (m Message) GetContent() string {
	var buf strings.Builder
	lastNewLine := true
	for _, p := range m.Parts {
		if !lastNewLine {
			buf.WriteString("\n")
		}
		switch typ := p.(type) {
		case TextContent:
			buf.WriteString(typ.Text)
			lastNewLine = strings.HasSuffix(typ.Text, "\n")
		case ImageURLContent:
			buf.WriteString("URL: ")
			buf.WriteString(typ.URL)
			lastNewLine = false
		case BinaryContent:
			buf.WriteString("Binary: ")
			buf.WriteString(typ.MIMEType)
			lastNewLine = false
		case ToolCall:
			buf.WriteString("Tool Call: ")
			buf.WriteString(typ.Name())
			buf.WriteString(" ")
			buf.WriteString(typ.Arguments())
			buf.WriteString("\n")
			lastNewLine = true
		case ToolCallResponse:
			if typ.IsError {
				buf.WriteString("Tool Error: ")
			} else {
				buf.WriteString("Tool Response: ")
			}
			buf.WriteString(typ.Name)
			buf.WriteString(" ")
			buf.WriteString(typ.Content)
			buf.WriteString("\n")
			lastNewLine = true
		}
	}
	if !lastNewLine {
		buf.WriteString("\n")
	}
	return buf.String()
}
