package transport

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
	CodeToolNotFound   = -32001
	CodeRequestTimeout = -32604
)

var (
	// ErrTransport marks connection-level failures.
	ErrTransport = errors.New("transport error")
	// ErrTimeout is returned when a request is not answered in time.
	ErrTimeout = errors.New("request timeout")
	// ErrClosed is returned for requests pending on, or issued to, a closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrNotConnected is returned when a message is sent before the transport is started.
	ErrNotConnected = errors.New("not connected")
)

// Error is the error object of a Response.
// It implements error, so a remote failure can be returned and inspected with errors.As.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError returns an error object with the formatted message
func NewError(code int, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the code of the first *Error in the chain.
func ErrorCode(err error) (int, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code, true
	}
	return 0, false
}

// ErrorResponse returns the error envelope with a null id answering an envelope
// that failed to decode, or nil if err is not a wire error.
func ErrorResponse(err error) *Message {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return NewErrorMessage(RequestID{}, rpcErr)
	}
	return nil
}

// WrapTransportError wraps err and marks it as a transport failure.
func WrapTransportError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrTransport)
}

// IsTransportError returns true for connection-level failures, including timeouts and closed connections.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrNotConnected)
}
