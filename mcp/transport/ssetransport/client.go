package ssetransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/xlog"
	"github.com/tmaxmax/go-sse"
)

// Client is the client side of the SSE transport.
// Envelopes are posted independently, so calls may be in flight concurrently.
type Client struct {
	transport.Handlers

	streamURL string
	client    *http.Client
	headers   map[string]string

	mu       sync.RWMutex
	endpoint string
	cancel   context.CancelFunc
	once     sync.Once
}

var _ transport.Transport = (*Client)(nil)

// NewClient returns a client transport for the event stream at streamURL
func NewClient(streamURL string) *Client {
	return &Client{
		streamURL: streamURL,
		client:    http.DefaultClient,
		headers:   make(map[string]string),
	}
}

// WithClient sets the HTTP client
func (c *Client) WithClient(client *http.Client) *Client {
	c.client = client
	return c
}

// WithHeader adds a header to every request
func (c *Client) WithHeader(key, value string) *Client {
	c.headers[key] = value
	return c
}

// Endpoint returns the POST URL announced by the server
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// Start opens the event stream and waits for the endpoint event.
// ctx bounds the wait, the stream stays open until Close.
func (c *Client) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.streamURL, nil)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return transport.WrapTransportError(err, "failed to open event stream")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return errors.Mark(errors.Errorf("event stream returned status: %d", resp.StatusCode), transport.ErrTransport)
	}

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.listen(streamCtx, resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			_ = c.Close()
			return err
		}
		return nil
	case <-ctx.Done():
		_ = c.Close()
		return errors.Wrap(ctx.Err(), "waiting for endpoint")
	}
}

func (c *Client) listen(ctx context.Context, body io.ReadCloser, ready chan<- error) {
	announced := false
	defer func() {
		_ = body.Close()
		if !announced {
			ready <- errors.Mark(errors.New("event stream ended before endpoint"), transport.ErrTransport)
		}
		_ = c.Close()
	}()

	base, _ := url.Parse(c.streamURL)
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			if ctx.Err() == nil {
				c.HandleError(transport.WrapTransportError(err, "failed to read event"))
			}
			return
		}

		switch ev.Type {
		case EventEndpoint:
			u, err := base.Parse(ev.Data)
			if err != nil {
				ready <- errors.Wrap(err, "invalid endpoint")
				announced = true
				return
			}
			c.mu.Lock()
			c.endpoint = u.String()
			c.mu.Unlock()
			if !announced {
				announced = true
				ready <- nil
			}
		case EventMessage, "":
			if c.Endpoint() == "" {
				logger.ContextKV(ctx, xlog.WARNING, "reason", "message_before_endpoint")
				continue
			}
			_ = c.HandleData(ctx, []byte(ev.Data))
		default:
			logger.ContextKV(ctx, xlog.DEBUG, "reason", "unhandled_event", "type", ev.Type)
		}
	}
}

// Send posts the envelope to the announced endpoint
func (c *Client) Send(ctx context.Context, message *transport.Message) error {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return errors.WithStack(transport.ErrNotConnected)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return transport.WrapTransportError(err, "failed to post message")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return errors.Mark(errors.Errorf("server returned error: %d", resp.StatusCode), transport.ErrTransport)
	}
	return nil
}

// Close closes the event stream and invokes the close handler
func (c *Client) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.endpoint = ""
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.HandleClose()
	})
	return nil
}
