// Package wstransport implements a stream transport over WebSocket,
// one envelope per text frame.
package wstransport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/xlog"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp/transport", "wstransport")

type peer struct {
	id   string
	conn net.Conn
	mu   sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := wsutil.WriteServerMessage(p.conn, ws.OpText, data); err != nil {
		return transport.WrapTransportError(err, "failed to write frame")
	}
	return nil
}

// Server is the server side of the WebSocket transport.
// It is an http.Handler; every upgraded connection is a peer with its own id routing.
type Server struct {
	transport.Handlers

	router *transport.Router[string]
	mu     sync.RWMutex
	peers  map[string]*peer
	once   sync.Once
}

var _ transport.Transport = (*Server)(nil)
var _ http.Handler = (*Server)(nil)

// NewServer returns a server transport
func NewServer() *Server {
	return &Server{
		router: transport.NewRouter[string](),
		peers:  make(map[string]*peer),
	}
}

// Start does nothing, the handler is mounted by the caller
func (s *Server) Start(ctx context.Context) error {
	return nil
}

// Close closes all connections
func (s *Server) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		for id, p := range s.peers {
			_ = p.conn.Close()
			delete(s.peers, id)
		}
		s.mu.Unlock()
		s.HandleClose()
	})
	return nil
}

// Send implements Transport.Send.
// Responses go to the connection that sent the request, other envelopes are broadcast.
func (s *Server) Send(ctx context.Context, message *transport.Message) error {
	var target string
	if message.Type == transport.MessageTypeResponse {
		id, ok := s.router.Outbound(message.Response)
		if !ok {
			return errors.Errorf("no pending request for id: %s", message.Response.ID.String())
		}
		target = id
	}

	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	s.mu.RLock()
	var peers []*peer
	if target != "" {
		if p := s.peers[target]; p != nil {
			peers = append(peers, p)
		}
	} else {
		for _, p := range s.peers {
			peers = append(peers, p)
		}
	}
	s.mu.RUnlock()

	if target != "" && len(peers) == 0 {
		return errors.Wrapf(transport.ErrClosed, "connection %s", target)
	}

	for _, p := range peers {
		if err := p.write(data); err != nil {
			if target != "" {
				return err
			}
			logger.ContextKV(ctx, xlog.WARNING, "peer", p.id, "err", err.Error())
		}
	}
	return nil
}

// ServeHTTP upgrades the connection and reads frames until it is closed
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		logger.ContextKV(r.Context(), xlog.ERROR, "reason", "upgrade", "err", err.Error())
		return
	}

	p := &peer{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()

	// hijacked connections are not bound to the request context
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		s.router.Forget(p.id)
		_ = conn.Close()
		logger.KV(xlog.DEBUG, "status", "disconnected", "peer", p.id)
	}()

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op == ws.OpClose {
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		message, err := transport.Decode(data)
		if err != nil {
			s.HandleError(err)
			if resp := transport.ErrorResponse(err); resp != nil {
				if js, merr := json.Marshal(resp); merr == nil {
					_ = p.write(js)
				}
			}
			continue
		}

		switch message.Type {
		case transport.MessageTypeRequest:
			s.router.Inbound(p.id, message.Request)
		case transport.MessageTypeNotification:
			s.router.InboundNotification(p.id, message.Notification)
		}
		s.HandleMessage(ctx, message)
	}
}

// Client is the client side of the WebSocket transport.
// Frames share one ordered connection, so the transport reports itself as Sequential.
type Client struct {
	transport.Handlers

	url     string
	headers http.Header

	mu   sync.Mutex
	conn net.Conn
	once sync.Once
}

var _ transport.Transport = (*Client)(nil)
var _ transport.Sequential = (*Client)(nil)

// NewClient returns a client transport for the ws:// or wss:// url
func NewClient(url string) *Client {
	return &Client{
		url:     url,
		headers: make(http.Header),
	}
}

// WithHeader adds a header to the handshake request
func (c *Client) WithHeader(key, value string) *Client {
	c.headers.Set(key, value)
	return c
}

// Sequential implements transport.Sequential
func (c *Client) Sequential() bool {
	return true
}

// Start dials the server and starts the reader
func (c *Client) Start(ctx context.Context) error {
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(c.headers),
	}
	conn, _, _, err := dialer.Dial(ctx, c.url)
	if err != nil {
		return transport.WrapTransportError(err, "failed to dial "+c.url)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(context.WithoutCancel(ctx), conn)
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	defer func() { _ = c.Close() }()

	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			return
		}
		if op == ws.OpClose {
			return
		}
		if op == ws.OpText || op == ws.OpBinary {
			_ = c.HandleData(ctx, data)
		}
	}
}

// Send writes one text frame
func (c *Client) Send(ctx context.Context, message *transport.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.WithStack(transport.ErrNotConnected)
	}
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return transport.WrapTransportError(err, "failed to write frame")
	}
	return nil
}

// Close closes the connection and invokes the close handler
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
		c.HandleClose()
	})
	return err
}
