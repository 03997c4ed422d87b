// Package protocol implements JSON-RPC framing on top of a pluggable transport.
//
// It owns the correlation table: every outgoing request gets a monotonically increasing id,
// and the matching response wakes exactly the caller waiting for that id.
// Responses with an unknown id are logged and dropped.
//
// The same Protocol serves inbound requests and notifications through registered handlers,
// which is how a tool server answers calls.
package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp/internal", "protocol")

// DefaultRequestTimeout is used when RequestOptions.Timeout is not set
const DefaultRequestTimeout = 60 * time.Second

// RequestOptions contains options that can be given per request
type RequestOptions struct {
	// Timeout specifies a timeout for this request.
	// If exceeded, an error marked with transport.ErrTimeout is returned.
	Timeout time.Duration
}

// RequestHandler answers an inbound request.
// Returning a *transport.Error sends that error object, any other error is sent as an internal error.
type RequestHandler func(ctx context.Context, req *transport.Request) (any, error)

// NotificationHandler handles an inbound notification
type NotificationHandler func(ctx context.Context, notification *transport.Notification) error

// Protocol implements request/response linking and handler dispatch over a Transport.
type Protocol struct {
	name      string
	transport transport.Transport

	mu     sync.RWMutex
	nextID int64
	closed bool

	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	// Maps inbound request ID to cancellation function
	requestCancellers map[transport.RequestID]context.CancelFunc
	// Maps outbound request ID to the waiter
	pending map[transport.RequestID]chan *transport.Response

	// OnClose is called when the connection is closed for any reason
	OnClose func()
	// OnError is called when an out-of-band error occurs
	OnError func(error)
}

// New creates a new Protocol. The name is used in logs and metrics.
func New(name string) *Protocol {
	p := &Protocol{
		name:                 name,
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		requestCancellers:    make(map[transport.RequestID]context.CancelFunc),
		pending:              make(map[transport.RequestID]chan *transport.Response),
	}
	p.SetNotificationHandler(transport.MethodCancelled, p.handleCancelledNotification)
	return p
}

// Connect attaches to the given transport and starts it
func (p *Protocol) Connect(ctx context.Context, tr transport.Transport) error {
	p.mu.Lock()
	p.transport = tr
	p.closed = false
	p.mu.Unlock()

	tr.SetCloseHandler(p.handleClose)
	tr.SetErrorHandler(p.handleError)
	tr.SetMessageHandler(func(ctx context.Context, message *transport.Message) {
		switch message.Type {
		case transport.MessageTypeRequest:
			p.handleRequest(ctx, message.Request)
		case transport.MessageTypeNotification:
			p.handleNotification(ctx, message.Notification)
		case transport.MessageTypeResponse:
			p.Resolve(message.Response)
		}
	})

	if err := tr.Start(ctx); err != nil {
		return transport.WrapTransportError(err, "failed to start transport")
	}
	return nil
}

// Sequential returns true if the underlying transport allows one request in flight
func (p *Protocol) Sequential() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transport != nil && transport.IsSequential(p.transport)
}

// Pending returns the number of outstanding requests
func (p *Protocol) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// Close closes the transport
func (p *Protocol) Close() error {
	p.mu.RLock()
	tr := p.transport
	p.mu.RUnlock()

	if tr != nil {
		return tr.Close()
	}
	return nil
}

func (p *Protocol) handleClose() {
	p.mu.Lock()
	p.closed = true
	for _, cancel := range p.requestCancellers {
		cancel()
	}
	pending := p.pending
	p.pending = make(map[transport.RequestID]chan *transport.Response)
	p.requestCancellers = make(map[transport.RequestID]context.CancelFunc)
	onClose := p.OnClose
	p.mu.Unlock()

	// waiters see a closed channel
	for _, ch := range pending {
		close(ch)
	}

	logger.KV(xlog.DEBUG, "protocol", p.name, "status", "closed", "pending", len(pending))
	if onClose != nil {
		onClose()
	}
}

func (p *Protocol) handleError(err error) {
	logger.KV(xlog.DEBUG, "protocol", p.name, "err", err.Error())
	if p.OnError != nil {
		p.OnError(err)
	}
}

// Resolve hands a response to the request waiting for its id.
// A response with no outstanding request is logged and dropped.
func (p *Protocol) Resolve(resp *transport.Response) {
	p.mu.Lock()
	ch := p.pending[resp.ID]
	delete(p.pending, resp.ID)
	p.mu.Unlock()

	if ch == nil {
		metricskey.StatsRPCUnexpectedResponses.IncrCounter(1, p.name)
		logger.KV(xlog.WARNING,
			"protocol", p.name,
			"reason", "unexpected_response",
			"id", resp.ID.String(),
		)
		return
	}
	ch <- resp
}

func (p *Protocol) handleNotification(ctx context.Context, notification *transport.Notification) {
	logger.KV(xlog.DEBUG, "protocol", p.name, "notification", notification.Method)

	p.mu.RLock()
	handler := p.notificationHandlers[notification.Method]
	p.mu.RUnlock()

	if handler == nil {
		return
	}
	if err := handler(ctx, notification); err != nil {
		p.handleError(errors.Wrapf(err, "notification handler %s", notification.Method))
	}
}

func (p *Protocol) handleRequest(ctx context.Context, request *transport.Request) {
	logger.KV(xlog.DEBUG,
		"protocol", p.name,
		"method", request.Method,
		"id", request.ID.String(),
	)

	p.mu.Lock()
	handler := p.requestHandlers[request.Method]
	ctx, cancel := context.WithCancel(ctx)
	p.requestCancellers[request.ID] = cancel
	tr := p.transport
	p.mu.Unlock()

	if handler == nil {
		handler = func(_ context.Context, req *transport.Request) (any, error) {
			return nil, transport.NewError(transport.CodeMethodNotFound, "Method not found: %s", req.Method)
		}
	}

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.requestCancellers, request.ID)
			p.mu.Unlock()
			cancel()
		}()

		metricskey.StatsRPCRequestsServed.IncrCounter(1, request.Method)

		response := &transport.Response{
			JSONRPC: transport.JSONRPCVersion,
			ID:      request.ID,
		}

		result, err := handler(ctx, request)
		if err == nil {
			response.Result, err = json.Marshal(result)
			err = errors.WithMessage(err, "failed to marshal result")
		}
		if err != nil {
			metricskey.StatsRPCRequestsFailed.IncrCounter(1, request.Method)
			logger.KV(xlog.DEBUG,
				"protocol", p.name,
				"method", request.Method,
				"id", request.ID.String(),
				"err", err.Error(),
			)
			response.Result = nil
			response.Error = toRPCError(err)
		}

		if err := tr.Send(ctx, transport.NewResponseMessage(response)); err != nil {
			p.handleError(errors.Wrap(err, "failed to send response"))
		}
	}()
}

func toRPCError(err error) *transport.Error {
	var rpcErr *transport.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return transport.NewError(transport.CodeInternalError, "%s", err.Error())
}

func (p *Protocol) handleCancelledNotification(_ context.Context, notification *transport.Notification) error {
	var params transport.CancelledParams
	if err := json.Unmarshal(notification.Params, &params); err != nil {
		return errors.Wrap(err, "failed to unmarshal cancelled params")
	}

	p.mu.RLock()
	cancel := p.requestCancellers[params.RequestID]
	p.mu.RUnlock()

	if cancel != nil {
		logger.KV(xlog.DEBUG, "protocol", p.name, "cancelled", params.RequestID.String(), "reason", params.Reason)
		cancel()
	}
	return nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	js, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}
	return js, nil
}

// Request sends a request and waits for the response.
// A remote error response is returned as *transport.Error.
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	timeout := DefaultRequestTimeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	marshalled, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.transport == nil {
		p.mu.Unlock()
		return nil, errors.WithStack(transport.ErrNotConnected)
	}
	if p.closed {
		p.mu.Unlock()
		return nil, errors.Wrapf(transport.ErrClosed, "%s", method)
	}
	p.nextID++
	id := transport.NewNumberID(p.nextID)
	ch := make(chan *transport.Response, 1)
	p.pending[id] = ch
	tr := p.transport
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	request := &transport.Request{
		JSONRPC: transport.JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  marshalled,
	}

	// request/response transports block in Send, so the deadline must reach the transport
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := tr.Send(reqCtx, transport.NewRequestMessage(request)); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "%s", method)
		}
		if reqCtx.Err() != nil {
			p.sendCancelNotification(id, "request timeout")
			return nil, errors.Wrapf(transport.ErrTimeout, "%s after %v", method, timeout)
		}
		return nil, transport.WrapTransportError(err, "failed to send "+method)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errors.Wrapf(transport.ErrClosed, "%s", method)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-reqCtx.Done():
		if ctx.Err() != nil {
			p.sendCancelNotification(id, ctx.Err().Error())
			return nil, errors.Wrapf(ctx.Err(), "%s", method)
		}
		p.sendCancelNotification(id, "request timeout")
		return nil, errors.Wrapf(transport.ErrTimeout, "%s after %v", method, timeout)
	}
}

func (p *Protocol) sendCancelNotification(id transport.RequestID, reason string) {
	err := p.Notification(context.Background(), transport.MethodCancelled, transport.CancelledParams{
		RequestID: id,
		Reason:    reason,
	})
	if err != nil {
		p.handleError(errors.Wrap(err, "failed to send cancel notification"))
	}
}

// Notification emits a one-way message
func (p *Protocol) Notification(ctx context.Context, method string, params any) error {
	p.mu.RLock()
	tr := p.transport
	closed := p.closed
	p.mu.RUnlock()

	if tr == nil {
		return errors.WithStack(transport.ErrNotConnected)
	}
	if closed {
		return errors.WithStack(transport.ErrClosed)
	}

	notification := &transport.Notification{
		JSONRPC: transport.JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		js, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal notification params")
		}
		notification.Params = js
	}
	return tr.Send(ctx, transport.NewNotificationMessage(notification))
}

// SetRequestHandler registers a handler for the method
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestHandlers[method] = handler
}

// SetNotificationHandler registers a handler for the notification method
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notificationHandlers[method] = handler
}

// RemoveNotificationHandler removes the handler for the notification method
func (p *Protocol) RemoveNotificationHandler(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.notificationHandlers, method)
}
