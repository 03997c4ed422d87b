package mcp

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/internal/protocol"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/xlog"
)

// DefaultCallTimeout bounds a request when no timeout is configured
const DefaultCallTimeout = protocol.DefaultRequestTimeout

// Dialer returns a new, not yet started, transport to the server
type Dialer func(ctx context.Context) (transport.Transport, error)

// Static returns a Dialer for an existing transport
func Static(tr transport.Transport) Dialer {
	return func(context.Context) (transport.Transport, error) {
		return tr, nil
	}
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithCallTimeout sets the timeout of every request issued by the session
func WithCallTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		if timeout > 0 {
			s.callTimeout = timeout
		}
	}
}

// WithClientInfo sets the name and version sent in initialize
func WithClientInfo(name, version string) SessionOption {
	return func(s *Session) {
		s.clientInfo = Implementation{Name: name, Version: version}
	}
}

// Session is the client side of one connection to a Server.
//
// Over a Sequential transport the Session allows one request in flight at a time,
// other transports carry concurrent calls.
type Session struct {
	name        string
	dial        Dialer
	clientInfo  Implementation
	callTimeout time.Duration

	mu         sync.RWMutex
	proto      *protocol.Protocol
	sequential bool
	init       *InitializeResult
	tools      []Tool
	fetched    bool

	// one slot, serializes requests over sequential transports
	callSem chan struct{}
}

// NewSession returns a disconnected session
func NewSession(name string, dial Dialer, opts ...SessionOption) *Session {
	s := &Session{
		name:        name,
		dial:        dial,
		callTimeout: DefaultCallTimeout,
		callSem:     make(chan struct{}, 1),
		clientInfo: Implementation{
			Name:    "mcpagent",
			Version: "1.0.0",
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the name of the session
func (s *Session) Name() string {
	return s.name
}

// Connected returns true after a successful Connect and until the connection is closed
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proto != nil
}

// Sequential returns true if the session allows one request in flight
func (s *Session) Sequential() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequential
}

// ServerInfo returns the result of the handshake, or nil if not connected
func (s *Session) ServerInfo() *InitializeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.init
}

// Connect establishes the connection, performs the handshake and fetches the tool list.
// Failures to reach the server are marked as transport errors.
func (s *Session) Connect(ctx context.Context) error {
	tr, err := s.dial(ctx)
	if err != nil {
		return transport.WrapTransportError(err, "failed to create transport for "+s.name)
	}

	p := protocol.New(s.name)
	p.SetNotificationHandler(MethodToolsListChanged, func(ctx context.Context, _ *transport.Notification) error {
		logger.ContextKV(ctx, xlog.DEBUG, "session", s.name, "reason", "tools_list_changed")
		s.invalidate()
		return nil
	})
	p.OnClose = func() {
		s.mu.Lock()
		if s.proto == p {
			s.proto = nil
			s.tools = nil
			s.fetched = false
		}
		s.mu.Unlock()
		logger.KV(xlog.DEBUG, "session", s.name, "status", "closed")
	}

	if err = p.Connect(ctx, tr); err != nil {
		return err
	}
	sequential := p.Sequential()

	raw, err := s.request(ctx, p, sequential, MethodInitialize, &InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      s.clientInfo,
	})
	if err != nil {
		_ = p.Close()
		return errors.WithMessagef(err, "failed to initialize %s", s.name)
	}

	var init InitializeResult
	if err = json.Unmarshal(raw, &init); err != nil {
		_ = p.Close()
		return errors.Wrapf(err, "invalid initialize result from %s", s.name)
	}

	if err = p.Notification(ctx, MethodInitialized, nil); err != nil {
		_ = p.Close()
		return errors.WithMessagef(err, "failed to notify %s", s.name)
	}

	s.mu.Lock()
	prev := s.proto
	s.proto = p
	s.sequential = sequential
	s.init = &init
	s.tools = nil
	s.fetched = false
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	logger.ContextKV(ctx, xlog.INFO,
		"session", s.name,
		"server", init.ServerInfo.Name,
		"version", init.ServerInfo.Version,
		"protocol_version", init.ProtocolVersion,
		"sequential", sequential,
	)

	if _, err = s.RefreshTools(ctx); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

// Reconnect closes the current connection, if any, and connects again.
// The tool cache is cleared and fetched from the new connection.
func (s *Session) Reconnect(ctx context.Context) error {
	_ = s.Close()
	return s.Connect(ctx)
}

// Close closes the connection
func (s *Session) Close() error {
	s.mu.Lock()
	p := s.proto
	s.proto = nil
	s.tools = nil
	s.fetched = false
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Close()
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.tools = nil
	s.fetched = false
	s.mu.Unlock()
}

func (s *Session) protocol() (*protocol.Protocol, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.proto == nil {
		return nil, false, errors.Wrapf(transport.ErrNotConnected, "session %s", s.name)
	}
	return s.proto, s.sequential, nil
}

func (s *Session) request(ctx context.Context, p *protocol.Protocol, sequential bool, method string, params any) (json.RawMessage, error) {
	if sequential {
		if err := s.acquire(ctx, method); err != nil {
			return nil, err
		}
		defer func() { <-s.callSem }()
	}
	return p.Request(ctx, method, params, &protocol.RequestOptions{Timeout: s.callTimeout})
}

// acquire waits for the request slot of a sequential session.
// The wait is bounded by the context and by the call timeout,
// nothing is sent when the slot is not acquired.
func (s *Session) acquire(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "%s", method)
	}
	select {
	case s.callSem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.callTimeout)
	defer timer.Stop()

	select {
	case s.callSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s: waiting for %s", method, s.name)
	case <-timer.C:
		return errors.Wrapf(transport.ErrTimeout, "%s: waiting for %s after %v", method, s.name, s.callTimeout)
	}
}

// ListTools returns the cached tool list, fetching it if it was not fetched
// since the last connect or list change
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	s.mu.RLock()
	tools, fetched := slices.Clone(s.tools), s.fetched
	s.mu.RUnlock()

	if fetched {
		return tools, nil
	}
	return s.RefreshTools(ctx)
}

// RefreshTools fetches the tool list from the server and replaces the cache
func (s *Session) RefreshTools(ctx context.Context) ([]Tool, error) {
	p, sequential, err := s.protocol()
	if err != nil {
		return nil, err
	}

	raw, err := s.request(ctx, p, sequential, MethodToolsList, nil)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to list tools of %s", s.name)
	}

	var res ListToolsResult
	if err = json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrapf(err, "invalid tools/list result from %s", s.name)
	}

	s.mu.Lock()
	if s.proto == p {
		s.tools = res.Tools
		s.fetched = true
	}
	s.mu.Unlock()

	return slices.Clone(res.Tools), nil
}

// Ping checks that the server is responsive
func (s *Session) Ping(ctx context.Context) error {
	p, sequential, err := s.protocol()
	if err != nil {
		return err
	}
	_, err = s.request(ctx, p, sequential, MethodPing, nil)
	return err
}

// CallTool invokes the named tool with the arguments.
//
// A failure of the tool itself is a result with IsError set.
// An unknown tool returns an error for which IsToolNotFound is true,
// other error responses are returned as *transport.Error,
// and connection failures satisfy transport.IsTransportError.
func (s *Session) CallTool(ctx context.Context, name string, arguments any) (*ToolResult, error) {
	p, sequential, err := s.protocol()
	if err != nil {
		return nil, err
	}

	params := &CallToolParams{Name: name}
	switch args := arguments.(type) {
	case nil:
	case json.RawMessage:
		params.Arguments = args
	case []byte:
		params.Arguments = args
	default:
		js, err := json.Marshal(args)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal arguments")
		}
		params.Arguments = js
	}

	raw, err := s.request(ctx, p, sequential, MethodToolsCall, params)
	if err != nil {
		if code, ok := transport.ErrorCode(err); ok && code == transport.CodeToolNotFound {
			return nil, errors.Mark(err, ErrToolNotFound)
		}
		return nil, err
	}

	var result ToolResult
	if err = json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrapf(err, "invalid tools/call result from %s", s.name)
	}
	return &result, nil
}
