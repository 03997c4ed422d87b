package agent

import (
	"context"
	"encoding/json"

	"github.com/effective-security/mcpagent/mcp"
)

// ToolProvider is a source of tools: a remote server session or a local registry.
type ToolProvider interface {
	// Name identifies the provider in logs and failure results
	Name() string
	// ListTools returns the tools of the provider
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool invokes a tool. A tool failure is a result with IsError set,
	// an unknown tool returns an error for which mcp.IsToolNotFound is true.
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolResult, error)
	// Sequential returns true if the provider handles one call at a time
	Sequential() bool
}

type sessionProvider struct {
	s *mcp.Session
}

// FromSession returns a provider over a client session
func FromSession(s *mcp.Session) ToolProvider {
	return &sessionProvider{s: s}
}

func (p *sessionProvider) Name() string {
	return p.s.Name()
}

func (p *sessionProvider) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return p.s.ListTools(ctx)
}

func (p *sessionProvider) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolResult, error) {
	return p.s.CallTool(ctx, name, arguments)
}

func (p *sessionProvider) Sequential() bool {
	return p.s.Sequential()
}

// FromClient returns providers over the sessions of the client,
// in the order the sessions were added
func FromClient(c *mcp.Client) []ToolProvider {
	var list []ToolProvider
	for _, s := range c.Sessions() {
		list = append(list, FromSession(s))
	}
	return list
}

type registryProvider struct {
	name string
	r    *mcp.Registry
}

// FromRegistry returns a provider calling the handlers of a local registry
func FromRegistry(name string, r *mcp.Registry) ToolProvider {
	return &registryProvider{name: name, r: r}
}

func (p *registryProvider) Name() string {
	return p.name
}

func (p *registryProvider) ListTools(context.Context) ([]mcp.Tool, error) {
	return p.r.List(), nil
}

func (p *registryProvider) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolResult, error) {
	return p.r.Dispatch(ctx, name, arguments)
}

func (p *registryProvider) Sequential() bool {
	return false
}
