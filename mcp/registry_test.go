package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/effective-security/mcpagent/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	reg := mcp.NewRegistry()

	changes := 0
	reg.OnChange(func() { changes++ })

	require.NoError(t, mcp.RegisterFunc(reg, "echo", "Echoes the message", echo))
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, changes)

	err := mcp.RegisterFunc(reg, "echo", "again", echo)
	assert.ErrorIs(t, err, mcp.ErrToolExists)
	assert.Equal(t, 1, changes)

	tool, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "Echoes the message", tool.Description)
	require.NotNil(t, tool.InputSchema)
	assert.Equal(t, []string{"message"}, tool.InputSchema.Required)

	res, err := reg.Dispatch(ctx, "echo", json.RawMessage(`{"message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text())

	_, err = reg.Dispatch(ctx, "nope", nil)
	assert.ErrorIs(t, err, mcp.ErrToolNotFound)
	assert.True(t, mcp.IsToolNotFound(err))

	require.NoError(t, reg.Deregister("echo"))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 2, changes)
	assert.ErrorIs(t, reg.Deregister("echo"), mcp.ErrToolNotFound)

	// can be registered again after removal
	require.NoError(t, mcp.RegisterFunc(reg, "echo", "Echoes the message", echo))

	assert.EqualError(t, reg.Register(mcp.Tool{}, nil), "tool name is required")
	assert.EqualError(t, reg.Register(mcp.Tool{Name: "x"}, nil), "tool x: handler is required")
}

func TestRegistry_NilResult(t *testing.T) {
	reg := mcp.NewRegistry()
	require.NoError(t, reg.Register(mcp.Tool{Name: "empty"}, func(context.Context, json.RawMessage) (*mcp.ToolResult, error) {
		return nil, nil
	}))

	res, err := reg.Dispatch(context.Background(), "empty", nil)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Empty(t, res.Content)

	js, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Equal(t, `{"content":[]}`, string(js))
}

func TestDecodeArguments(t *testing.T) {
	type args struct {
		Name  string  `json:"name"`
		Count int     `json:"count,omitempty"`
		Ratio float64 `json:"ratio"`
	}

	var a args
	require.NoError(t, mcp.DecodeArguments(json.RawMessage(`{"name":"x","count":"3","ratio":0.5}`), &a))
	assert.Equal(t, args{Name: "x", Count: 3, Ratio: 0.5}, a)

	var empty args
	require.NoError(t, mcp.DecodeArguments(nil, &empty))
	require.NoError(t, mcp.DecodeArguments(json.RawMessage(`null`), &empty))
	assert.Equal(t, args{}, empty)

	assert.Error(t, mcp.DecodeArguments(json.RawMessage(`"str"`), &a))
}

func TestToolResult(t *testing.T) {
	res := mcp.NewToolResult(
		mcp.NewTextContent("line 1"),
		mcp.NewImageContent("aGVsbG8=", "image/png"),
		mcp.NewTextContent("line 2"),
	)
	assert.Equal(t, "line 1\nline 2", res.Text())

	js, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[
		{"type":"text","text":"line 1"},
		{"type":"image","data":"aGVsbG8=","mimeType":"image/png"},
		{"type":"text","text":"line 2"}
	]}`, string(js))

	errRes := mcp.NewErrorResult("failed: %d", 42)
	assert.True(t, errRes.IsError)
	assert.Equal(t, "failed: 42", errRes.Text())
}
