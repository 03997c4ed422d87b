// Package ssetransport implements a stream transport over Server-Sent Events.
//
// A client opens a GET event stream; the first event, of type "endpoint", carries the URL
// the client POSTs envelopes to. Responses and notifications from the server arrive as
// "message" events on the stream, so the server can push unsolicited notifications.
package ssetransport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp/transport", "ssetransport")

const (
	// EventEndpoint announces the POST URL
	EventEndpoint = "endpoint"
	// EventMessage carries one envelope
	EventMessage = "message"
	// SessionParam is the query parameter identifying the stream a POST belongs to
	SessionParam = "sessionId"

	maxBodySize = 10 << 20
)

type session struct {
	id   string
	ctx  context.Context
	mu   sync.Mutex
	sess *sse.Session
}

func (s *session) send(data []byte) error {
	msg := &sse.Message{Type: sse.Type(EventMessage)}
	msg.AppendData(string(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Send(msg); err != nil {
		return transport.WrapTransportError(err, "failed to write event")
	}
	if err := s.sess.Flush(); err != nil {
		return transport.WrapTransportError(err, "failed to flush event")
	}
	return nil
}

// Server is the server side of the SSE transport.
// One Server serves many streams; request ids are routed per stream.
type Server struct {
	transport.Handlers

	messageURL string
	router     *transport.Router[string]

	mu       sync.RWMutex
	sessions map[string]*session
	done     chan struct{}
	once     sync.Once
}

var _ transport.Transport = (*Server)(nil)

// NewServer returns a server transport that advertises messageURL as the POST endpoint
func NewServer(messageURL string) *Server {
	return &Server{
		messageURL: messageURL,
		router:     transport.NewRouter[string](),
		sessions:   make(map[string]*session),
		done:       make(chan struct{}),
	}
}

// Start does nothing, the handlers are mounted by the caller
func (s *Server) Start(ctx context.Context) error {
	return nil
}

// Close ends all streams
func (s *Server) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.HandleClose()
	})
	return nil
}

// Sessions returns the number of open streams
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Send implements Transport.Send.
// Responses go to the stream that sent the request, other envelopes are broadcast.
func (s *Server) Send(ctx context.Context, message *transport.Message) error {
	if message.Type == transport.MessageTypeResponse {
		id, ok := s.router.Outbound(message.Response)
		if !ok {
			return errors.Errorf("no pending request for id: %s", message.Response.ID.String())
		}
		s.mu.RLock()
		sess := s.sessions[id]
		s.mu.RUnlock()
		if sess == nil {
			return errors.Wrapf(transport.ErrClosed, "session %s", id)
		}

		data, err := json.Marshal(message)
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}
		return sess.send(data)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		if err := sess.send(data); err != nil {
			logger.ContextKV(ctx, xlog.WARNING, "session", sess.id, "err", err.Error())
		}
	}
	return nil
}

// HandleSSE returns the handler of the GET event stream
func (s *Server) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			logger.ContextKV(r.Context(), xlog.ERROR, "reason", "upgrade", "err", err.Error())
			http.Error(w, "failed to upgrade session", http.StatusInternalServerError)
			return
		}

		id := uuid.NewString()
		endpoint := s.messageURL + "?" + url.Values{SessionParam: []string{id}}.Encode()

		ss := &session{
			id:   id,
			ctx:  r.Context(),
			sess: sess,
		}

		msg := &sse.Message{Type: sse.Type(EventEndpoint)}
		msg.AppendData(endpoint)
		ss.mu.Lock()
		err = sess.Send(msg)
		if err == nil {
			err = sess.Flush()
		}
		ss.mu.Unlock()
		if err != nil {
			logger.ContextKV(r.Context(), xlog.ERROR, "reason", "endpoint", "err", err.Error())
			return
		}

		s.mu.Lock()
		s.sessions[id] = ss
		s.mu.Unlock()
		logger.ContextKV(r.Context(), xlog.DEBUG, "status", "connected", "session", id)

		select {
		case <-r.Context().Done():
		case <-s.done:
		}

		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		s.router.Forget(id)
		logger.ContextKV(r.Context(), xlog.DEBUG, "status", "disconnected", "session", id)
	})
}

// HandleMessage returns the handler of the POST endpoint
func (s *Server) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Only POST method is supported", http.StatusMethodNotAllowed)
			return
		}

		id := r.URL.Query().Get(SessionParam)
		s.mu.RLock()
		sess := s.sessions[id]
		s.mu.RUnlock()
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		message, err := transport.Decode(body)
		if err != nil {
			s.HandleError(err)
			if resp := transport.ErrorResponse(err); resp != nil {
				if js, merr := json.Marshal(resp); merr == nil {
					_ = sess.send(js)
				}
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch message.Type {
		case transport.MessageTypeRequest:
			s.router.Inbound(id, message.Request)
		case transport.MessageTypeNotification:
			s.router.InboundNotification(id, message.Notification)
		}

		// handlers outlive the POST, they are bound to the stream
		s.Handlers.HandleMessage(sess.ctx, message)
		w.WriteHeader(http.StatusAccepted)
	})
}
