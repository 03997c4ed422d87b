package mcp

import (
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// Client owns a set of named Sessions.
// Callers refer to sessions by name; the Client is responsible for closing them.
type Client struct {
	config *ClientConfig
	opts   []SessionOption

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

// NewClient returns a client for the configured servers.
// The options are applied to every session.
func NewClient(cfg *ClientConfig, opts ...SessionOption) *Client {
	if cfg == nil {
		cfg = new(ClientConfig)
	}
	return &Client{
		config:   cfg,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Config returns the client config
func (c *Client) Config() *ClientConfig {
	return c.config
}

// Connect connects to the server and adds the session.
// If a session with the same name is connected, it is returned.
func (c *Client) Connect(ctx context.Context, cfg *ServerConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s, ok := c.Session(cfg.Name); ok && s.Connected() {
		return s, nil
	}

	s := NewSession(cfg.Name, cfg.Dialer(), c.opts...)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	c.add(s)
	return s, nil
}

// Add connects a session built by the caller and adds it to the client
func (c *Client) Add(ctx context.Context, s *Session) error {
	if _, ok := c.Session(s.Name()); ok {
		return errors.Newf("session already exists: %s", s.Name())
	}
	if !s.Connected() {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	c.add(s)
	return nil
}

func (c *Client) add(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.sessions[s.Name()]; prev != nil && prev != s {
		_ = prev.Close()
	}
	if !slices.Contains(c.order, s.Name()) {
		c.order = append(c.order, s.Name())
	}
	c.sessions[s.Name()] = s
}

// ConnectAll connects every configured server with auto_connect enabled.
// Servers that fail are skipped; their errors are returned together.
func (c *Client) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, cfg := range c.config.Servers {
		if !cfg.ShouldAutoConnect() {
			continue
		}
		if _, err := c.Connect(ctx, cfg); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "server", cfg.Name, "err", err.Error())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConnectByName connects the configured server with the given name
func (c *Client) ConnectByName(ctx context.Context, name string) (*Session, error) {
	cfg, ok := c.config.Server(name)
	if !ok {
		return nil, errors.Newf("server not configured: %s", name)
	}
	return c.Connect(ctx, cfg)
}

// Session returns the session with the given name
func (c *Client) Session(name string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[name]
	return s, ok
}

// Sessions returns the sessions in the order they were added
func (c *Client) Sessions() []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := make([]*Session, 0, len(c.order))
	for _, name := range c.order {
		list = append(list, c.sessions[name])
	}
	return list
}

// Disconnect closes and removes the named session
func (c *Client) Disconnect(name string) error {
	c.mu.Lock()
	s := c.sessions[name]
	delete(c.sessions, name)
	c.order = slices.DeleteFunc(c.order, func(n string) bool { return n == name })
	c.mu.Unlock()

	if s == nil {
		return errors.Newf("session not found: %s", name)
	}
	return s.Close()
}

// Close closes all sessions
func (c *Client) Close() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.order = nil
	c.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
