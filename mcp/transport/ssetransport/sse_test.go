package ssetransport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/mcp/transport/ssetransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) (*ssetransport.Server, *httptest.Server) {
	srv := ssetransport.NewServer("/message")
	srv.SetMessageHandler(func(ctx context.Context, m *transport.Message) {
		if m.Type != transport.MessageTypeRequest {
			return
		}
		result, _ := json.Marshal(m.Request.Method)
		go func() {
			_ = srv.Send(ctx, transport.NewResponseMessage(&transport.Response{
				JSONRPC: transport.JSONRPCVersion,
				ID:      m.Request.ID,
				Result:  result,
			}))
		}()
	})

	mux := http.NewServeMux()
	mux.Handle("/sse", srv.HandleSSE())
	mux.Handle("/message", srv.HandleMessage())
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})
	return srv, ts
}

func TestSSE_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, ts := echoServer(t)

	client := ssetransport.NewClient(ts.URL + "/sse")
	messages := make(chan *transport.Message, 4)
	client.SetMessageHandler(func(_ context.Context, m *transport.Message) {
		messages <- m
	})
	closed := make(chan struct{})
	client.SetCloseHandler(func() { close(closed) })

	require.NoError(t, client.Start(ctx))
	assert.True(t, strings.HasPrefix(client.Endpoint(), ts.URL+"/message?"+ssetransport.SessionParam+"="))
	assert.False(t, transport.IsSequential(client))

	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Send(ctx, transport.NewRequestMessage(&transport.Request{
		JSONRPC: transport.JSONRPCVersion,
		ID:      transport.NewStringID("abc"),
		Method:  "ping",
	})))

	select {
	case m := <-messages:
		require.Equal(t, transport.MessageTypeResponse, m.Type)
		assert.Equal(t, transport.NewStringID("abc"), m.ID())
		assert.Equal(t, `"ping"`, string(m.Response.Result))
	case <-ctx.Done():
		t.Fatal("no response")
	}

	// unsolicited notifications are broadcast on the stream
	require.NoError(t, srv.Send(ctx, transport.NewNotificationMessage(&transport.Notification{
		JSONRPC: transport.JSONRPCVersion,
		Method:  "notifications/tools/list_changed",
	})))
	select {
	case m := <-messages:
		require.Equal(t, transport.MessageTypeNotification, m.Type)
		assert.Equal(t, "notifications/tools/list_changed", m.Method())
	case <-ctx.Done():
		t.Fatal("no notification")
	}

	require.NoError(t, client.Close())
	<-closed

	err := client.Send(ctx, transport.NewNotificationMessage(&transport.Notification{Method: "x"}))
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestSSE_MessageErrors(t *testing.T) {
	_, ts := echoServer(t)

	resp, err := http.Get(ts.URL + "/message")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/message?sessionId=missing", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSE_MalformedEnvelope(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, ts := echoServer(t)
	serverErrs := make(chan error, 1)
	srv.SetErrorHandler(func(err error) {
		select {
		case serverErrs <- err:
		default:
		}
	})

	client := ssetransport.NewClient(ts.URL + "/sse")
	messages := make(chan *transport.Message, 4)
	client.SetMessageHandler(func(_ context.Context, m *transport.Message) {
		messages <- m
	})
	require.NoError(t, client.Start(ctx))
	defer func() { _ = client.Close() }()
	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post(client.Endpoint(), "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	select {
	case err := <-serverErrs:
		code, ok := transport.ErrorCode(err)
		assert.True(t, ok)
		assert.Equal(t, transport.CodeParseError, code)
	case <-ctx.Done():
		t.Fatal("no error")
	}

	// the stream carries the error response with a null id
	select {
	case m := <-messages:
		require.Equal(t, transport.MessageTypeResponse, m.Type)
		assert.True(t, m.ID().IsNull())
		require.NotNil(t, m.Response.Error)
		assert.Equal(t, transport.CodeParseError, m.Response.Error.Code)
	case <-ctx.Done():
		t.Fatal("no error response")
	}
}

func TestSSE_StreamNotFound(t *testing.T) {
	ctx := context.Background()
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	client := ssetransport.NewClient(ts.URL + "/sse")
	err := client.Start(ctx)
	require.Error(t, err)
	assert.True(t, transport.IsTransportError(err))
}
