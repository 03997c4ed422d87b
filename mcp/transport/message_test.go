package transport_test

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		js   string
		str  string
		null bool
	}{
		{js: `1`, str: "1"},
		{js: `"abc"`, str: "abc"},
		{js: `null`, str: "null", null: true},
	}
	for _, tc := range tcs {
		var id transport.RequestID
		require.NoError(t, json.Unmarshal([]byte(tc.js), &id))
		assert.Equal(t, tc.str, id.String())
		assert.Equal(t, tc.null, id.IsNull())

		js, err := json.Marshal(id)
		require.NoError(t, err)
		assert.Equal(t, tc.js, string(js))
	}

	var id transport.RequestID
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &id))

	// numbers and strings with the same text are different ids
	assert.NotEqual(t, transport.NewNumberID(1), transport.NewStringID("1"))
	n, ok := transport.NewNumberID(42).Number()
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("request", func(t *testing.T) {
		msg, err := transport.Decode([]byte(`{"jsonrpc":"2.0","id":7,"method":"tools/list","params":{}}`))
		require.NoError(t, err)
		assert.Equal(t, transport.MessageTypeRequest, msg.Type)
		assert.Equal(t, "tools/list", msg.Method())
		assert.Equal(t, transport.NewNumberID(7), msg.ID())
		assert.JSONEq(t, `{}`, string(msg.Request.Params))
	})

	t.Run("notification", func(t *testing.T) {
		msg, err := transport.Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
		require.NoError(t, err)
		assert.Equal(t, transport.MessageTypeNotification, msg.Type)
		assert.Equal(t, "notifications/initialized", msg.Method())
	})

	t.Run("result", func(t *testing.T) {
		msg, err := transport.Decode([]byte(`{"jsonrpc":"2.0","id":"a","result":{"ok":true}}`))
		require.NoError(t, err)
		assert.Equal(t, transport.MessageTypeResponse, msg.Type)
		assert.Equal(t, transport.NewStringID("a"), msg.ID())
		assert.Nil(t, msg.Response.Error)
		assert.JSONEq(t, `{"ok":true}`, string(msg.Response.Result))
	})

	t.Run("null result", func(t *testing.T) {
		msg, err := transport.Decode([]byte(`{"jsonrpc":"2.0","id":3,"result":null}`))
		require.NoError(t, err)
		assert.Equal(t, transport.MessageTypeResponse, msg.Type)
		assert.Equal(t, "null", string(msg.Response.Result))
	})

	t.Run("error", func(t *testing.T) {
		msg, err := transport.Decode([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"bad"}}`))
		require.NoError(t, err)
		assert.Equal(t, transport.MessageTypeResponse, msg.Type)
		assert.True(t, msg.ID().IsNull())
		require.NotNil(t, msg.Response.Error)
		assert.Equal(t, transport.CodeParseError, msg.Response.Error.Code)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := transport.Decode([]byte(`{"jsonrpc":`))
		require.Error(t, err)
		code, ok := transport.ErrorCode(err)
		assert.True(t, ok)
		assert.Equal(t, transport.CodeParseError, code)
	})

	t.Run("invalid request", func(t *testing.T) {
		_, err := transport.Decode([]byte(`{"jsonrpc":"2.0"}`))
		require.Error(t, err)
		code, ok := transport.ErrorCode(err)
		assert.True(t, ok)
		assert.Equal(t, transport.CodeInvalidRequest, code)
	})
}

func TestMessage_JSON(t *testing.T) {
	t.Parallel()

	msg := transport.NewRequestMessage(&transport.Request{
		JSONRPC: transport.JSONRPCVersion,
		ID:      transport.NewNumberID(1),
		Method:  "ping",
	})
	js, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(js))

	var decoded transport.Message
	require.NoError(t, json.Unmarshal(js, &decoded))
	assert.Equal(t, transport.MessageTypeRequest, decoded.Type)
	assert.Equal(t, "ping", decoded.Method())

	errMsg := transport.NewErrorMessage(transport.NewNumberID(2), transport.NewError(transport.CodeMethodNotFound, "Method not found: %s", "x"))
	js, err = json.Marshal(errMsg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found: x"}}`, string(js))
}

func TestErrors(t *testing.T) {
	t.Parallel()

	err := transport.WrapTransportError(errors.New("connection refused"), "dial")
	assert.True(t, transport.IsTransportError(err))
	assert.EqualError(t, err, "dial: connection refused")
	assert.Nil(t, transport.WrapTransportError(nil, "dial"))

	assert.True(t, transport.IsTransportError(errors.Wrap(transport.ErrTimeout, "tools/call")))
	assert.True(t, transport.IsTransportError(transport.ErrClosed))
	assert.False(t, transport.IsTransportError(errors.New("boom")))

	rpcErr := errors.Wrap(transport.NewError(transport.CodeToolNotFound, "Tool not found: x"), "call")
	code, ok := transport.ErrorCode(rpcErr)
	assert.True(t, ok)
	assert.Equal(t, transport.CodeToolNotFound, code)
	assert.False(t, transport.IsTransportError(rpcErr))
}
