package mcp

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/internal/protocol"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// Server defaults
const (
	DefaultServerName    = "MCP Server"
	DefaultServerVersion = "1.0.0"
)

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerInfo sets the name and version reported by initialize
func WithServerInfo(name, version string) ServerOption {
	return func(s *Server) {
		s.info = Implementation{
			Name:    values.StringsCoalesce(name, DefaultServerName),
			Version: values.StringsCoalesce(version, DefaultServerVersion),
		}
	}
}

// WithInstructions sets the instructions reported by initialize
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// Server binds a Registry to transports.
// One Server may serve several transports at once, each with its own correlation table.
type Server struct {
	registry     *Registry
	info         Implementation
	instructions string

	mu        sync.Mutex
	protocols []*protocol.Protocol
}

// NewServer returns a server for the registry
func NewServer(registry *Registry, opts ...ServerOption) *Server {
	s := &Server{
		registry: registry,
		info: Implementation{
			Name:    DefaultServerName,
			Version: DefaultServerVersion,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	registry.OnChange(s.notifyListChanged)
	return s
}

// Registry returns the served registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Info returns the server name and version
func (s *Server) Info() Implementation {
	return s.info
}

// Serve starts answering requests received on the transport.
// It returns after the transport is started; requests are served until the transport is closed.
func (s *Server) Serve(ctx context.Context, tr transport.Transport) error {
	p := protocol.New("server")
	p.SetRequestHandler(MethodInitialize, s.handleInitialize)
	p.SetRequestHandler(MethodPing, s.handlePing)
	p.SetRequestHandler(MethodToolsList, s.handleListTools)
	p.SetRequestHandler(MethodToolsCall, s.handleCallTool)
	p.SetRequestHandler(MethodResourcesList, func(context.Context, *transport.Request) (any, error) {
		return map[string]any{"resources": []any{}}, nil
	})
	p.SetRequestHandler(MethodPromptsList, func(context.Context, *transport.Request) (any, error) {
		return map[string]any{"prompts": []any{}}, nil
	})
	p.SetNotificationHandler(MethodInitialized, func(ctx context.Context, _ *transport.Notification) error {
		logger.ContextKV(ctx, xlog.DEBUG, "status", "client_initialized")
		return nil
	})
	p.OnClose = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.protocols = slices.DeleteFunc(s.protocols, func(x *protocol.Protocol) bool { return x == p })
	}

	s.mu.Lock()
	s.protocols = append(s.protocols, p)
	s.mu.Unlock()

	if err := p.Connect(ctx, tr); err != nil {
		s.mu.Lock()
		s.protocols = slices.DeleteFunc(s.protocols, func(x *protocol.Protocol) bool { return x == p })
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close closes all served transports
func (s *Server) Close() error {
	s.mu.Lock()
	protocols := slices.Clone(s.protocols)
	s.mu.Unlock()

	var errs []error
	for _, p := range protocols {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) notifyListChanged() {
	s.mu.Lock()
	protocols := slices.Clone(s.protocols)
	s.mu.Unlock()

	for _, p := range protocols {
		if err := p.Notification(context.Background(), MethodToolsListChanged, nil); err != nil {
			logger.KV(xlog.DEBUG, "notification", MethodToolsListChanged, "err", err.Error())
		}
	}
}

func (s *Server) handleInitialize(ctx context.Context, req *transport.Request) (any, error) {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, transport.NewError(transport.CodeInvalidParams, "Invalid params: %s", err.Error())
		}
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol_version", params.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{ListChanged: true},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handlePing(context.Context, *transport.Request) (any, error) {
	return struct{}{}, nil
}

func (s *Server) handleListTools(context.Context, *transport.Request) (any, error) {
	return &ListToolsResult{Tools: s.registry.List()}, nil
}

func (s *Server) handleCallTool(ctx context.Context, req *transport.Request) (any, error) {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil, transport.NewError(transport.CodeInvalidParams, "Missing params")
	}
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, transport.NewError(transport.CodeInvalidParams, "Invalid params: %s", err.Error())
	}
	if params.Name == "" {
		return nil, transport.NewError(transport.CodeInvalidParams, "Missing tool name")
	}

	result, err := s.registry.Dispatch(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return nil, transport.NewError(transport.CodeToolNotFound, "Tool not found: %s", params.Name)
		}
		return nil, toRPCError(err)
	}
	return result, nil
}
