package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/xlog"
)

// HTTPClient is the interface of *http.Client used by the client transport
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClientTransport implements the client side of the HTTP transport.
// Calls are independent POST exchanges and may be in flight concurrently.
type HTTPClientTransport struct {
	transport.Handlers

	baseURL string
	client  HTTPClient
	headers map[string]string
}

var _ transport.Transport = (*HTTPClientTransport)(nil)

// NewHTTPClientTransport creates a transport that posts envelopes to url
func NewHTTPClientTransport(url string) *HTTPClientTransport {
	return &HTTPClientTransport{
		baseURL: url,
		client:  http.DefaultClient,
		headers: make(map[string]string),
	}
}

// WithClient sets the HTTP client
func (t *HTTPClientTransport) WithClient(client HTTPClient) *HTTPClientTransport {
	t.client = client
	return t
}

// WithHeader adds a header to every request
func (t *HTTPClientTransport) WithHeader(key, value string) *HTTPClientTransport {
	t.headers[key] = value
	return t
}

// Start does nothing in the stateless client transport
func (t *HTTPClientTransport) Start(ctx context.Context) error {
	return nil
}

// Send implements Transport.Send
func (t *HTTPClientTransport) Send(ctx context.Context, message *transport.Message) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return transport.WrapTransportError(err, "failed to send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return transport.WrapTransportError(err, "failed to read response")
	}

	if resp.StatusCode >= 300 {
		logger.ContextKV(ctx, xlog.ERROR,
			"url", t.baseURL,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return errors.Mark(errors.Errorf("server returned error: %d", resp.StatusCode), transport.ErrTransport)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return t.HandleData(ctx, body)
}

// Close invokes the close handler
func (t *HTTPClientTransport) Close() error {
	t.HandleClose()
	return nil
}
