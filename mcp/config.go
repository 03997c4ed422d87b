package mcp

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/mcp/transport/httptransport"
	"github.com/effective-security/mcpagent/mcp/transport/ssetransport"
	"github.com/effective-security/mcpagent/mcp/transport/stdio"
	"github.com/effective-security/mcpagent/mcp/transport/wstransport"
	"github.com/effective-security/x/configloader"
)

// TransportType names a wire transport
type TransportType string

// Transport types
const (
	TransportHTTP      TransportType = "http"
	TransportSSE       TransportType = "sse"
	TransportWebSocket TransportType = "ws"
	TransportStdio     TransportType = "stdio"
)

// ServerConfig describes how to reach one tool server
type ServerConfig struct {
	Name string `json:"name" yaml:"name"`
	// URL of an HTTP, SSE or WebSocket server
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Command launches a server speaking over its standard input and output
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Transport is inferred from Command or URL when empty
	Transport TransportType `json:"transport,omitempty" yaml:"transport,omitempty"`
	// AutoConnect defaults to true
	AutoConnect *bool `json:"auto_connect,omitempty" yaml:"auto_connect,omitempty"`
}

// HTTPServer returns the config of a server reached over HTTP
func HTTPServer(name, url string) *ServerConfig {
	return &ServerConfig{Name: name, URL: url}
}

// StdioServer returns the config of a server launched as a subprocess
func StdioServer(name, command string, args ...string) *ServerConfig {
	return &ServerConfig{Name: name, Command: command, Args: args}
}

// FromCommand returns the config of a server launched by a command line.
// The command line is split on white space.
func FromCommand(name, cmdline string) (*ServerConfig, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, errors.New("command is required")
	}
	return StdioServer(name, fields[0], fields[1:]...), nil
}

// ShouldAutoConnect returns true if the server is connected by Client.ConnectAll
func (c *ServerConfig) ShouldAutoConnect() bool {
	return c.AutoConnect == nil || *c.AutoConnect
}

// TransportType returns the configured or inferred transport
func (c *ServerConfig) TransportType() TransportType {
	if c.Transport != "" {
		return c.Transport
	}
	if c.Command != "" {
		return TransportStdio
	}
	if u, err := url.Parse(c.URL); err == nil {
		switch {
		case u.Scheme == "ws" || u.Scheme == "wss":
			return TransportWebSocket
		case strings.HasSuffix(u.Path, "/sse"):
			return TransportSSE
		}
	}
	return TransportHTTP
}

// Validate returns an error if the config is incomplete
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return errors.New("server name is required")
	}
	switch c.TransportType() {
	case TransportStdio:
		if c.Command == "" {
			return errors.Newf("server %s: command is required", c.Name)
		}
	case TransportHTTP, TransportSSE, TransportWebSocket:
		if c.URL == "" {
			return errors.Newf("server %s: url is required", c.Name)
		}
	default:
		return errors.Newf("server %s: unsupported transport: %s", c.Name, c.Transport)
	}
	return nil
}

// NewTransport returns a new transport to the server
func (c *ServerConfig) NewTransport() (transport.Transport, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.TransportType() {
	case TransportStdio:
		return stdio.NewCommand(c.Command, c.Args, c.Env), nil
	case TransportSSE:
		t := ssetransport.NewClient(c.URL)
		for k, v := range c.Headers {
			t.WithHeader(k, v)
		}
		return t, nil
	case TransportWebSocket:
		t := wstransport.NewClient(c.URL)
		for k, v := range c.Headers {
			t.WithHeader(k, v)
		}
		return t, nil
	default:
		t := httptransport.NewHTTPClientTransport(c.URL)
		for k, v := range c.Headers {
			t.WithHeader(k, v)
		}
		return t, nil
	}
}

// Dialer returns a Dialer creating a new transport on every connect
func (c *ServerConfig) Dialer() Dialer {
	return func(context.Context) (transport.Transport, error) {
		return c.NewTransport()
	}
}

// ClientConfig lists the servers of a Client
type ClientConfig struct {
	Servers []*ServerConfig `json:"servers" yaml:"servers"`
}

// Validate returns an error if a server config is invalid or names repeat
func (c *ClientConfig) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return errors.Newf("duplicate server name: %s", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Server returns the config of the named server
func (c *ClientConfig) Server(name string) (*ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// LoadClientConfig loads the config from a YAML or JSON file.
// Environment variables in values are expanded.
func LoadClientConfig(file string) (*ClientConfig, error) {
	cfg := new(ClientConfig)
	if file == "" {
		return cfg, nil
	}

	if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
		return nil, errors.WithMessagef(err, "failed to load %s", file)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
