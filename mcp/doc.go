// Package mcp implements the tool protocol on both sides of a connection.
//
// A Server binds a Registry of tools to one or more transports and answers
// initialize, tools/list and tools/call. A Session is the client side of one
// connection: it performs the handshake, caches the remote tool list and issues calls.
// A Client owns a set of named Sessions built from configuration.
//
// Tool failures travel as results tagged IsError. Protocol failures, such as an
// unknown tool or invalid params, travel as error responses and surface as *transport.Error.
package mcp

import "github.com/effective-security/xlog"

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "mcp")
