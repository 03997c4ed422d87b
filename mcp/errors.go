package mcp

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
)

var (
	// ErrToolNotFound is returned when a call names a tool that is not registered
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolExists is returned when a tool with the same name is already registered
	ErrToolExists = errors.New("tool already registered")
)

// IsToolNotFound returns true for a local ErrToolNotFound
// and for a remote error response with the tool-not-found code.
func IsToolNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrToolNotFound) {
		return true
	}
	code, ok := transport.ErrorCode(err)
	return ok && code == transport.CodeToolNotFound
}

// toRPCError maps an error to the wire error object
func toRPCError(err error) *transport.Error {
	var rpcErr *transport.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, ErrToolNotFound) {
		return transport.NewError(transport.CodeToolNotFound, "%s", err.Error())
	}
	return transport.NewError(transport.CodeInternalError, "%s", err.Error())
}
