package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// ProtocolVersion is the protocol revision negotiated by initialize
const ProtocolVersion = "2024-11-05"

// Methods
const (
	MethodInitialize       = "initialize"
	MethodInitialized      = "notifications/initialized"
	MethodPing             = "ping"
	MethodToolsList        = "tools/list"
	MethodToolsCall        = "tools/call"
	MethodResourcesList    = "resources/list"
	MethodPromptsList      = "prompts/list"
	MethodToolsListChanged = "notifications/tools/list_changed"
)

// Tool describes a named callable
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// ContentType is the type tag of a content item
type ContentType string

// Content types
const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// Content is one item of a tool result
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`
	// Data is base64 encoded image data
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// NewTextContent returns a text item
func NewTextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// NewImageContent returns an image item
func NewImageContent(data, mimeType string) Content {
	return Content{Type: ContentTypeImage, Data: data, MimeType: mimeType}
}

// ToolResult is the outcome of a tool call
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// NewToolResult returns a success result with the given content
func NewToolResult(content ...Content) *ToolResult {
	if content == nil {
		content = []Content{}
	}
	return &ToolResult{Content: content}
}

// NewTextResult returns a success result with one text item
func NewTextResult(text string) *ToolResult {
	return NewToolResult(NewTextContent(text))
}

// NewErrorResult returns a failure result with one text item
func NewErrorResult(format string, args ...any) *ToolResult {
	return &ToolResult{
		Content: []Content{NewTextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

// Text returns the text items joined by new lines
func (r *ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == ContentTypeText {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CallToolParams are the params of tools/call
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ListToolsResult is the result of tools/list
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// Implementation identifies a client or server
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability advertises tool support
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities are the optional features a server supports
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ClientCapabilities are the optional features a client supports
type ClientCapabilities struct {
	Experimental map[string]any `json:"experimental,omitempty"`
}

// InitializeParams are the params of initialize
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the result of initialize
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}
