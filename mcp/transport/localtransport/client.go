package localtransport

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
)

// Client is the client side of the in-process transport.
// Each Send is one exchange with the Handler, so calls may be in flight concurrently.
type Client struct {
	transport.Handlers

	handler Handler
	headers map[string]string
}

var _ transport.Transport = (*Client)(nil)

// NewClient creates a client transport that sends envelopes to the handler
func NewClient(handler Handler) *Client {
	return &Client{
		handler: handler,
		headers: make(map[string]string),
	}
}

// WithHeader adds a header to every request
func (t *Client) WithHeader(key, value string) *Client {
	t.headers[key] = value
	return t
}

// Start does nothing in the stateless client transport
func (t *Client) Start(ctx context.Context) error {
	return nil
}

// Send implements Transport.Send
func (t *Client) Send(ctx context.Context, message *transport.Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	resp, err := t.handler.HandleMCP(ctx, &ProxyRequest{
		Body:    body,
		Headers: maps.Clone(t.headers),
	})
	if err != nil {
		return transport.WrapTransportError(err, "local exchange failed")
	}

	switch resp.Status {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
	default:
		return errors.Mark(errors.Errorf("server returned error: %d", resp.Status), transport.ErrTransport)
	}

	if len(resp.Body) == 0 {
		return nil
	}
	return t.HandleData(ctx, resp.Body)
}

// Close invokes the close handler
func (t *Client) Close() error {
	t.HandleClose()
	return nil
}
