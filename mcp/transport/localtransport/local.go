package localtransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
)

// ProxyRequest is one envelope handed to a Handler
type ProxyRequest struct {
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// ProxyResponse is the answer of a Handler.
// Body is empty when the envelope did not expect a response.
type ProxyResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Handler processes envelopes in-process, or proxies them to a remote server
type Handler interface {
	HandleMCP(ctx context.Context, req *ProxyRequest) (*ProxyResponse, error)
}

// Transport is the server side of the in-process transport.
// It implements Handler, so a Client can be connected to it directly.
type Transport struct {
	*transport.Exchanger
}

var _ Handler = (*Transport)(nil)
var _ transport.Transport = (*Transport)(nil)

// New returns a server transport
func New() *Transport {
	return &Transport{
		Exchanger: transport.NewExchanger(),
	}
}

// Start does nothing in the stateless local transport
func (s *Transport) Start(ctx context.Context) error {
	return nil
}

// Close invokes the close handler
func (s *Transport) Close() error {
	s.HandleClose()
	return nil
}

// HandleMCP implements Handler
func (s *Transport) HandleMCP(ctx context.Context, req *ProxyRequest) (*ProxyResponse, error) {
	response, err := s.Exchange(ctx, req.Body)
	if err != nil {
		return nil, err
	}
	if response == nil {
		return &ProxyResponse{Status: http.StatusAccepted}, nil
	}

	body, err := json.Marshal(response)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal response")
	}
	return &ProxyResponse{
		Status:  http.StatusOK,
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/json"},
	}, nil
}
