package agent

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/xlog"
)

// router maps tool names to the providers offering them
type router struct {
	tools  []llms.Tool
	owners map[string][]ToolProvider
}

// newRouter collects the tools of all providers.
// A name offered by several providers is advertised once,
// calls to it are resolved as ambiguous.
func newRouter(ctx context.Context, providers []ToolProvider) (*router, error) {
	r := &router{
		owners: make(map[string][]ToolProvider),
	}
	for _, p := range providers {
		list, err := p.ListTools(ctx)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to list tools of %s", p.Name())
		}
		for _, t := range list {
			if len(r.owners[t.Name]) == 0 {
				r.tools = append(r.tools, llms.FunctionTool(t.Name, t.Description, t.InputSchema))
			} else {
				logger.ContextKV(ctx, xlog.WARNING,
					"reason", "ambiguous_tool",
					"tool", t.Name,
					"provider", p.Name(),
				)
			}
			r.owners[t.Name] = append(r.owners[t.Name], p)
		}
	}
	return r, nil
}

// Tools returns the tool definitions to pass to the model
func (r *router) Tools() []llms.Tool {
	return r.tools
}

// Names returns the advertised tool names
func (r *router) Names() []string {
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Function.Name)
	}
	return names
}

// Resolve returns the provider of the tool,
// or a message for the model when the name is unknown or ambiguous.
func (r *router) Resolve(name string) (ToolProvider, string) {
	owners := r.owners[name]
	switch len(owners) {
	case 0:
		return nil, "Tool `" + name + "` not found. Available tools: " + strings.Join(r.Names(), ", ")
	case 1:
		return owners[0], ""
	default:
		names := make([]string, 0, len(owners))
		for _, o := range owners {
			names = append(names, o.Name())
		}
		return nil, "Tool `" + name + "` is ambiguous, it is provided by: " + strings.Join(names, ", ")
	}
}
