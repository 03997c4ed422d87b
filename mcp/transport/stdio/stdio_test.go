package stdio_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/mcp/transport/stdio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pair() (client, server *stdio.Transport) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return stdio.New(r2, w1), stdio.New(r1, w2)
}

func TestStdio_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client, server := pair()
	assert.True(t, client.Sequential())

	server.SetMessageHandler(func(ctx context.Context, m *transport.Message) {
		if m.Type != transport.MessageTypeRequest {
			return
		}
		result, _ := json.Marshal(m.Request.Method)
		_ = server.Send(ctx, transport.NewResponseMessage(&transport.Response{
			JSONRPC: transport.JSONRPCVersion,
			ID:      m.Request.ID,
			Result:  result,
		}))
	})
	serverErrs := make(chan error, 1)
	server.SetErrorHandler(func(err error) { serverErrs <- err })
	serverClosed := make(chan struct{})
	server.SetCloseHandler(func() { close(serverClosed) })

	responses := make(chan *transport.Message, 1)
	client.SetMessageHandler(func(_ context.Context, m *transport.Message) {
		responses <- m
	})

	require.NoError(t, server.Start(ctx))
	require.NoError(t, client.Start(ctx))

	require.NoError(t, client.Send(ctx, transport.NewRequestMessage(&transport.Request{
		JSONRPC: transport.JSONRPCVersion,
		ID:      transport.NewNumberID(1),
		Method:  "tools/list",
	})))

	select {
	case m := <-responses:
		assert.Equal(t, transport.NewNumberID(1), m.ID())
		assert.Equal(t, `"tools/list"`, string(m.Response.Result))
	case <-time.After(5 * time.Second):
		t.Fatal("no response")
	}

	// garbage lines are reported, not fatal
	require.NoError(t, client.Send(ctx, transport.NewNotificationMessage(&transport.Notification{
		JSONRPC: transport.JSONRPCVersion,
		Method:  "",
	})))
	select {
	case err := <-serverErrs:
		code, ok := transport.ErrorCode(err)
		assert.True(t, ok)
		assert.Equal(t, transport.CodeInvalidRequest, code)
	case <-time.After(5 * time.Second):
		t.Fatal("no error")
	}
	// and answered with an error response with a null id
	select {
	case m := <-responses:
		require.Equal(t, transport.MessageTypeResponse, m.Type)
		assert.True(t, m.ID().IsNull())
		require.NotNil(t, m.Response.Error)
		assert.Equal(t, transport.CodeInvalidRequest, m.Response.Error.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("no error response")
	}

	require.NoError(t, client.Close())
	select {
	case <-serverClosed:
	case <-time.After(5 * time.Second):
		t.Fatal("server was not closed")
	}

	err := client.Send(ctx, transport.NewNotificationMessage(&transport.Notification{Method: "x"}))
	assert.ErrorIs(t, err, transport.ErrClosed)
}
