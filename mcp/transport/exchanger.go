package transport

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// Exchanger is the server side of a request/response transport.
// Every inbound request blocks its exchange until the response with the same id is sent.
// Requests from concurrent exchanges are routed independently, so ids may repeat across callers.
type Exchanger struct {
	Handlers

	router  *Router[int64]
	mu      sync.Mutex
	counter int64
	waiters map[int64]chan *Message
}

// NewExchanger returns an Exchanger
func NewExchanger() *Exchanger {
	return &Exchanger{
		router:  NewRouter[int64](),
		waiters: make(map[int64]chan *Message),
	}
}

// Exchange processes one inbound envelope.
// It returns the response for a request, or nil for notifications and responses.
// An unparsable envelope yields an error response with a null id.
func (e *Exchanger) Exchange(ctx context.Context, data []byte) (*Message, error) {
	message, err := Decode(data)
	if err != nil {
		e.HandleError(err)
		if resp := ErrorResponse(err); resp != nil {
			return resp, nil
		}
		return nil, err
	}

	switch message.Type {
	case MessageTypeNotification:
		// the request id of a cancel belongs to an unknown caller,
		// an abandoned exchange cancels its own context instead
		if message.Notification.Method == MethodCancelled {
			logger.ContextKV(ctx, xlog.DEBUG, "reason", "cancel_ignored")
			return nil, nil
		}
		e.HandleMessage(ctx, message)
		return nil, nil
	case MessageTypeResponse:
		e.HandleMessage(ctx, message)
		return nil, nil
	}

	e.mu.Lock()
	e.counter++
	key := e.counter
	ch := make(chan *Message, 1)
	e.waiters[key] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.waiters, key)
		e.mu.Unlock()
		e.router.Forget(key)
	}()

	e.router.Inbound(key, message.Request)
	e.HandleMessage(ctx, message)

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "exchange abandoned")
	}
}

// Send implements Transport.Send.
// Responses are routed to the waiting exchange, other envelopes cannot be delivered
// without a persistent channel and are dropped.
func (e *Exchanger) Send(ctx context.Context, message *Message) error {
	if message.Type != MessageTypeResponse {
		logger.ContextKV(ctx, xlog.DEBUG,
			"reason", "dropped",
			"type", message.Type,
			"method", message.Method(),
		)
		return nil
	}

	key, ok := e.router.Outbound(message.Response)
	if !ok {
		return errors.Errorf("no pending exchange for id: %s", message.Response.ID.String())
	}

	e.mu.Lock()
	ch := e.waiters[key]
	e.mu.Unlock()

	if ch == nil {
		return errors.Errorf("exchange %d is gone", key)
	}
	ch <- message
	return nil
}
