package main

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/agent"
	"github.com/effective-security/mcpagent/mcp"
)

// serverFlags select the tool providers
type serverFlags struct {
	Servers string   `help:"Tool servers config file, YAML or JSON" type:"existingfile"`
	Server  []string `help:"Tool server command line, as name=command args" sep:"none"`
	Builtin bool     `help:"Add the built-in tools" default:"true" negatable:""`
}

// connect returns the providers and a function closing the sessions
func (f *serverFlags) connect(ctx context.Context) ([]agent.ToolProvider, func(), error) {
	cfg, err := mcp.LoadClientConfig(f.Servers)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range f.Server {
		name, cmdline, ok := strings.Cut(s, "=")
		if !ok {
			return nil, nil, errors.Newf("invalid server %q, expected name=command", s)
		}
		sc, err := mcp.FromCommand(name, cmdline)
		if err != nil {
			return nil, nil, err
		}
		cfg.Servers = append(cfg.Servers, sc)
	}
	if err = cfg.Validate(); err != nil {
		return nil, nil, err
	}

	client := mcp.NewClient(cfg, mcp.WithClientInfo("mcpagent", version))
	closer := func() { _ = client.Close() }
	if err = client.ConnectAll(ctx); err != nil {
		closer()
		return nil, nil, err
	}

	providers := agent.FromClient(client)
	if f.Builtin {
		reg, err := newBuiltinRegistry()
		if err != nil {
			closer()
			return nil, nil, err
		}
		providers = append(providers, agent.FromRegistry("builtin", reg))
	}
	return providers, closer, nil
}
