package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp/transport", "httptransport")

// MaxBodySize limits the size of one envelope
const MaxBodySize = 10 << 20

// HTTPTransport implements a stateless HTTP server transport.
// Each POST carries one envelope and is answered with the response envelope.
type HTTPTransport struct {
	*transport.Exchanger

	server   *http.Server
	endpoint string
	addr     string
}

var _ transport.Transport = (*HTTPTransport)(nil)
var _ http.Handler = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTP transport that serves the specified endpoint
func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		Exchanger: transport.NewExchanger(),
		endpoint:  endpoint,
		addr:      ":8080",
	}
}

// WithAddr sets the address to listen on
func (t *HTTPTransport) WithAddr(addr string) *HTTPTransport {
	t.addr = addr
	return t
}

// Start implements Transport.Start.
// An empty address means the transport is mounted into an existing server with ServeHTTP,
// otherwise Start listens in the background.
func (t *HTTPTransport) Start(ctx context.Context) error {
	if t.addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(t.endpoint, t)

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.KV(xlog.INFO, "status", "listening", "addr", t.addr, "endpoint", t.endpoint)
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.HandleError(errors.Wrap(err, "http server failed"))
		}
	}()
	return nil
}

// Close implements Transport.Close
func (t *HTTPTransport) Close() error {
	defer t.HandleClose()
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

// ServeHTTP implements http.Handler
func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is supported", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		t.HandleError(errors.Wrap(err, "failed to read request body"))
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	response, err := t.Exchange(ctx, body)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "exchange", "err", err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	jsonData, err := json.Marshal(response)
	if err != nil {
		t.HandleError(errors.Wrap(err, "failed to marshal response"))
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(jsonData)
}
