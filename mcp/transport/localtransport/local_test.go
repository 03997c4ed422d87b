package localtransport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/mcp/transport/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every request with its method name
func echoServer(t *testing.T) *localtransport.Transport {
	srv := localtransport.New()
	srv.SetMessageHandler(func(ctx context.Context, m *transport.Message) {
		if m.Type != transport.MessageTypeRequest {
			return
		}
		result, _ := json.Marshal(map[string]string{"method": m.Request.Method})
		err := srv.Send(ctx, transport.NewResponseMessage(&transport.Response{
			JSONRPC: transport.JSONRPCVersion,
			ID:      m.Request.ID,
			Result:  result,
		}))
		assert.NoError(t, err)
	})
	return srv
}

func request(id int64, method string) *transport.Message {
	return transport.NewRequestMessage(&transport.Request{
		JSONRPC: transport.JSONRPCVersion,
		ID:      transport.NewNumberID(id),
		Method:  method,
	})
}

func TestClient_RoundTrip(t *testing.T) {
	srv := echoServer(t)
	client := localtransport.NewClient(srv)
	require.NoError(t, client.Start(context.Background()))

	var got []*transport.Message
	client.SetMessageHandler(func(_ context.Context, m *transport.Message) {
		got = append(got, m)
	})

	require.NoError(t, client.Send(context.Background(), request(1, "ping")))
	require.Len(t, got, 1)
	assert.Equal(t, transport.MessageTypeResponse, got[0].Type)
	assert.Equal(t, transport.NewNumberID(1), got[0].ID())
	assert.JSONEq(t, `{"method":"ping"}`, string(got[0].Response.Result))
}

func TestClient_ConcurrentSameID(t *testing.T) {
	srv := echoServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			client := localtransport.NewClient(srv)
			var mu sync.Mutex
			var got *transport.Message
			client.SetMessageHandler(func(_ context.Context, m *transport.Message) {
				mu.Lock()
				got = m
				mu.Unlock()
			})
			assert.NoError(t, client.Send(context.Background(), request(1, "tools/list")))
			mu.Lock()
			defer mu.Unlock()
			if assert.NotNil(t, got) {
				assert.Equal(t, transport.NewNumberID(1), got.ID())
			}
		}()
	}
	wg.Wait()
}

func TestTransport_HandleMCP(t *testing.T) {
	srv := echoServer(t)
	ctx := context.Background()

	t.Run("notification", func(t *testing.T) {
		resp, err := srv.HandleMCP(ctx, &localtransport.ProxyRequest{
			Body: []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.Status)
		assert.Empty(t, resp.Body)
	})

	t.Run("parse error", func(t *testing.T) {
		resp, err := srv.HandleMCP(ctx, &localtransport.ProxyRequest{Body: []byte(`{`)})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)

		msg, err := transport.Decode(resp.Body)
		require.NoError(t, err)
		require.NotNil(t, msg.Response.Error)
		assert.Equal(t, transport.CodeParseError, msg.Response.Error.Code)
		assert.True(t, msg.ID().IsNull())
	})

	t.Run("abandoned", func(t *testing.T) {
		silent := localtransport.New()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := silent.HandleMCP(cctx, &localtransport.ProxyRequest{
			Body: []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("unknown response", func(t *testing.T) {
		err := srv.Send(ctx, transport.NewResponseMessage(&transport.Response{ID: transport.NewNumberID(999)}))
		assert.Error(t, err)
	})
}

type failingHandler struct {
	status int
}

func (h failingHandler) HandleMCP(context.Context, *localtransport.ProxyRequest) (*localtransport.ProxyResponse, error) {
	return &localtransport.ProxyResponse{Status: h.status}, nil
}

func TestClient_Errors(t *testing.T) {
	client := localtransport.NewClient(failingHandler{status: http.StatusInternalServerError}).
		WithHeader("Authorization", "Bearer token")
	err := client.Send(context.Background(), request(1, "ping"))
	require.Error(t, err)
	assert.True(t, transport.IsTransportError(err))

	closed := false
	client.SetCloseHandler(func() { closed = true })
	require.NoError(t, client.Close())
	assert.True(t, closed)
}
