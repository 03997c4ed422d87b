// Package transport defines the envelope exchanged between tool servers and clients,
// and the Transport contract that every wire implementation satisfies.
package transport

import (
	"context"
	"sync"

	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp", "transport")

// Transport carries envelopes between two peers.
//
// A Transport pushes every inbound envelope to the message handler.
// Request/response transports deliver the response of a Send before Send returns,
// stream transports deliver from a reader goroutine.
type Transport interface {
	// Start begins reading. It must be called once, after the handlers are set.
	Start(ctx context.Context) error
	// Send writes one envelope.
	Send(ctx context.Context, message *Message) error
	// Close closes the connection and invokes the close handler.
	Close() error

	// SetMessageHandler sets the callback for every inbound envelope.
	SetMessageHandler(handler func(ctx context.Context, message *Message))
	// SetErrorHandler sets the callback for out-of-band errors, for example unparsable input.
	// Errors reported this way are not necessarily fatal.
	SetErrorHandler(handler func(error))
	// SetCloseHandler sets the callback for when the connection is closed for any reason.
	SetCloseHandler(handler func())
}

// Sequential is implemented by transports that carry a single ordered stream
// and must not have more than one request in flight.
type Sequential interface {
	Sequential() bool
}

// IsSequential returns true if calls over t must be serialized.
func IsSequential(t Transport) bool {
	if s, ok := t.(Sequential); ok {
		return s.Sequential()
	}
	return false
}

// Handlers keeps the callbacks of a Transport.
// Implementations embed it to satisfy the Set*Handler methods.
type Handlers struct {
	mu             sync.RWMutex
	messageHandler func(ctx context.Context, message *Message)
	errorHandler   func(error)
	closeHandler   func()
	closeOnce      sync.Once
}

// SetMessageHandler implements Transport.SetMessageHandler
func (h *Handlers) SetMessageHandler(handler func(ctx context.Context, message *Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messageHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler
func (h *Handlers) SetErrorHandler(handler func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorHandler = handler
}

// SetCloseHandler implements Transport.SetCloseHandler
func (h *Handlers) SetCloseHandler(handler func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeHandler = handler
}

// HandleMessage delivers an inbound envelope to the message handler
func (h *Handlers) HandleMessage(ctx context.Context, message *Message) {
	h.mu.RLock()
	handler := h.messageHandler
	h.mu.RUnlock()

	if handler == nil {
		logger.KV(xlog.DEBUG, "reason", "no_handler", "type", message.Type)
		return
	}
	handler(ctx, message)
}

// HandleData decodes raw bytes and delivers the envelope.
// Decoding errors are reported to the error handler and returned.
func (h *Handlers) HandleData(ctx context.Context, data []byte) error {
	message, err := Decode(data)
	if err != nil {
		h.HandleError(err)
		return err
	}
	h.HandleMessage(ctx, message)
	return nil
}

// HandleError reports an out-of-band error
func (h *Handlers) HandleError(err error) {
	h.mu.RLock()
	handler := h.errorHandler
	h.mu.RUnlock()

	if handler != nil {
		handler(err)
	} else {
		logger.KV(xlog.DEBUG, "err", err.Error())
	}
}

// HandleClose invokes the close handler once
func (h *Handlers) HandleClose() {
	h.closeOnce.Do(func() {
		h.mu.RLock()
		handler := h.closeHandler
		h.mu.RUnlock()

		if handler != nil {
			handler()
		}
	})
}
