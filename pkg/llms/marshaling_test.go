package llms_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_JSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  llms.Message
		js   string
	}{
		{
			"single text",
			llms.MessageFromTextParts(llms.RoleUser, "hello"),
			`{"role":"user","text":"hello"}`,
		},
		{
			"texts",
			llms.MessageFromTextParts(llms.RoleUser, "a", "b"),
			`{"role":"user","parts":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`,
		},
		{
			"binary",
			llms.MessageFromParts(llms.RoleUser, llms.BinaryPart("image/png", []byte{0x00, 0x01, 0x02})),
			`{"role":"user","parts":[{"type":"binary","binary":{"mime_type":"image/png","data":"AAEC"}}]}`,
		},
		{
			"image",
			llms.MessageFromParts(llms.RoleUser, llms.ImageURLPart("https://example.com/image.png")),
			`{"role":"user","parts":[{"type":"image_url","image_url":{"url":"https://example.com/image.png"}}]}`,
		},
		{
			"tool_call",
			llms.MessageFromToolCalls("", llms.ToolCall{ID: "123", Type: "function", FunctionCall: &llms.FunctionCall{Name: "add", Arguments: `{"a":1,"b":2}`}}),
			`{"role":"assistant","parts":[{"type":"tool_call","tool_call":{"id":"123","type":"function","function":{"name":"add","arguments":"{\"a\":1,\"b\":2}"}}}]}`,
		},
		{
			"tool_response",
			llms.MessageFromToolResponses(llms.ToolCallResponse{ToolCallID: "123", Name: "add", Content: "failed", IsError: true}),
			`{"role":"tool","parts":[{"type":"tool_response","tool_response":{"tool_call_id":"123","name":"add","content":"failed","is_error":true}}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			js, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.js, string(js))

			var got llms.Message
			require.NoError(t, json.Unmarshal(js, &got))
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestMessage_UnmarshalErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		js  string
		exp string
	}{
		{`{"role":"human","text":"x"}`, `"human": unexpected role`},
		{`{"role":"user","parts":[{"type":"video"}]}`, `part 0: unknown content type: 'video'`},
		{`{"role":"user","parts":[{"type":"image_url"}]}`, `image_url field is required`},
		{`{"role":"user","parts":[{"type":"binary","binary":{"data":"%%"}}]}`, `failed to decode binary data`},
		{`{"role":"assistant","parts":[{"type":"tool_call","tool_call":{}}]}`, `tool_call field with id is required`},
		{`{"role":"tool","parts":[{"type":"tool_response","tool_response":{"name":"x"}}]}`, `tool_response field with tool_call_id is required`},
		{`[]`, `failed to decode message`},
	}
	for _, tt := range tests {
		t.Run(tt.js, func(t *testing.T) {
			var m llms.Message
			err := json.Unmarshal([]byte(tt.js), &m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.exp)
		})
	}
}

func TestConversation_JSON(t *testing.T) {
	t.Parallel()
	conv := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "be brief"),
		llms.MessageFromTextParts(llms.RoleUser, "add 1 and 2"),
		llms.MessageFromToolCalls("", llms.ToolCall{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "add", Arguments: `{"a":1,"b":2}`}}),
		llms.MessageFromToolResponses(llms.ToolCallResponse{ToolCallID: "c1", Name: "add", Content: "3"}),
		llms.MessageFromTextParts(llms.RoleAssistant, "3"),
	}
	js, err := json.Marshal(conv)
	require.NoError(t, err)

	var got []llms.Message
	require.NoError(t, json.Unmarshal(js, &got))
	assert.Equal(t, conv, got)
}
