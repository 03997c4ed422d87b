package mcp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/mcp/transport/httptransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postEnvelope(t *testing.T, url, body string) (int, *transport.Message) {
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) == 0 {
		return resp.StatusCode, nil
	}
	msg, err := transport.Decode(data)
	require.NoError(t, err)
	return resp.StatusCode, msg
}

func TestServer_HTTP(t *testing.T) {
	ctx := context.Background()

	srvTransport := httptransport.NewHTTPTransport("/mcp").WithAddr("")
	srv := mcp.NewServer(newRegistry(t))
	require.NoError(t, srv.Serve(ctx, srvTransport))
	defer srv.Close()

	ts := httptest.NewServer(srvTransport)
	defer ts.Close()

	tcases := []struct {
		name    string
		body    string
		code    int
		message string
		result  string
	}{
		{
			name:    "unknown method",
			body:    `{"jsonrpc":"2.0","id":1,"method":"foo/bar"}`,
			code:    transport.CodeMethodNotFound,
			message: "Method not found: foo/bar",
		},
		{
			name:    "call without params",
			body:    `{"jsonrpc":"2.0","id":2,"method":"tools/call"}`,
			code:    transport.CodeInvalidParams,
			message: "Missing params",
		},
		{
			name:    "call without name",
			body:    `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"arguments":{}}}`,
			code:    transport.CodeInvalidParams,
			message: "Missing tool name",
		},
		{
			name:    "unknown tool",
			body:    `{"jsonrpc":"2.0","id":"abc","method":"tools/call","params":{"name":"nope"}}`,
			code:    transport.CodeToolNotFound,
			message: "Tool not found: nope",
		},
		{
			name:    "malformed",
			body:    `{"jsonrpc":"2.0",`,
			code:    transport.CodeParseError,
		},
		{
			name:   "ping",
			body:   `{"jsonrpc":"2.0","id":4,"method":"ping"}`,
			result: `{}`,
		},
		{
			name:   "resources",
			body:   `{"jsonrpc":"2.0","id":5,"method":"resources/list"}`,
			result: `{"resources":[]}`,
		},
		{
			name:   "prompts",
			body:   `{"jsonrpc":"2.0","id":6,"method":"prompts/list"}`,
			result: `{"prompts":[]}`,
		},
		{
			name:   "call",
			body:   `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"message":"Hello, MCP!"}}}`,
			result: `{"content":[{"type":"text","text":"Hello, MCP!"}]}`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			status, msg := postEnvelope(t, ts.URL, tc.body)
			assert.Equal(t, http.StatusOK, status)
			require.NotNil(t, msg)
			require.Equal(t, transport.MessageTypeResponse, msg.Type)

			if tc.result != "" {
				require.Nil(t, msg.Response.Error)
				assert.JSONEq(t, tc.result, string(msg.Response.Result))
				return
			}
			require.NotNil(t, msg.Response.Error)
			assert.Equal(t, tc.code, msg.Response.Error.Code)
			if tc.message != "" {
				assert.Equal(t, tc.message, msg.Response.Error.Message)
			}
		})
	}

	// the original id is restored
	_, msg := postEnvelope(t, ts.URL, `{"jsonrpc":"2.0","id":"abc","method":"ping"}`)
	assert.Equal(t, transport.NewStringID("abc"), msg.ID())

	status, msg := postEnvelope(t, ts.URL, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Nil(t, msg)
}

func TestServer_HTTPSession(t *testing.T) {
	ctx := context.Background()

	srvTransport := httptransport.NewHTTPTransport("/mcp").WithAddr("")
	srv := mcp.NewServer(newRegistry(t))
	require.NoError(t, srv.Serve(ctx, srvTransport))
	defer srv.Close()

	ts := httptest.NewServer(srvTransport)
	defer ts.Close()

	client := mcp.NewClient(&mcp.ClientConfig{
		Servers: []*mcp.ServerConfig{mcp.HTTPServer("http", ts.URL)},
	})
	defer client.Close()
	require.NoError(t, client.ConnectAll(ctx))

	session, ok := client.Session("http")
	require.True(t, ok)
	assert.False(t, session.Sequential())

	res, err := session.CallTool(ctx, "echo", json.RawMessage(`{"message":"over http"}`))
	require.NoError(t, err)
	assert.Equal(t, "over http", res.Text())
}
