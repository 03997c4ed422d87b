package llmutils

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/mcpagent/pkg/llms"
	"gopkg.in/yaml.v3"
)

// ToJSONIndent returns tab indented JSON, or an empty string if val can not be encoded
func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

// ToYAML returns YAML, or an empty string if val can not be encoded
func ToYAML(val any) string {
	y, _ := yaml.Marshal(val)
	return string(y)
}

// PrintMessages is a debugging helper for the conversation.
func PrintMessages(w io.Writer, msgs []llms.Message) {
	for _, mc := range msgs {
		fmt.Fprintf(w, "%s: ", strings.ToUpper(string(mc.Role)))
		if len(mc.Parts) == 0 {
			fmt.Fprintln(w)
		}
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				fmt.Fprintln(w, pp.Text)
			case llms.ImageURLContent:
				fmt.Fprintln(w, pp.URL)
			case llms.BinaryContent:
				fmt.Fprintf(w, "Binary MIME=%s, size=%d\n", pp.MIMEType, len(pp.Data))
			case llms.ToolCall:
				fmt.Fprintf(w, "ToolCall ID=%s, Func=%s(%s)\n", pp.ID, pp.Name(), pp.Arguments())
			case llms.ToolCallResponse:
				fmt.Fprintf(w, "ToolCallResponse ID=%s, Name=%s, IsError=%t, Content=%s\n", pp.ToolCallID, pp.Name, pp.IsError, pp.Content)
			}
		}
	}
}

// CountMessagesContentSize returns the number of bytes of roles and content
// in the messages, used for traffic accounting.
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size int
	for _, mc := range msgs {
		size += len(mc.Role)
		for _, p := range mc.Parts {
			size += partSize(p)
		}
	}
	return uint64(size)
}

// CountResponseContentSize returns the number of bytes of text and tool calls in the response
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	var size int
	for _, choice := range resp.Choices {
		size += len(choice.Content)
		for _, call := range choice.ToolCalls {
			size += partSize(call)
		}
	}
	return uint64(size)
}

func partSize(p llms.ContentPart) int {
	switch pp := p.(type) {
	case llms.TextContent:
		return len(pp.Text)
	case llms.ImageURLContent:
		return len(pp.URL) + len(pp.Detail)
	case llms.BinaryContent:
		return len(pp.MIMEType) + len(pp.Data)
	case llms.ToolCall:
		return len(pp.ID) + len(pp.Type) + len(pp.Name()) + len(pp.Arguments())
	case llms.ToolCallResponse:
		return len(pp.ToolCallID) + len(pp.Name) + len(pp.Content)
	default:
		return 0
	}
}

// LastUserText returns the first text part of the last user message
func LastUserText(messages []llms.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != llms.RoleUser {
			continue
		}
		for _, part := range msg.Parts {
			if textPart, ok := part.(llms.TextContent); ok {
				return textPart.Text
			}
		}
	}
	return ""
}
