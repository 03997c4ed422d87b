package transport

import (
	"encoding/json"
	"sync"
)

// MethodCancelled is the notification sent when a caller abandons a request.
const MethodCancelled = "notifications/cancelled"

// CancelledParams are the params of MethodCancelled
type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

type route[P comparable] struct {
	peer P
	id   RequestID
}

// Router lets one server-side Transport serve many peers.
// Inbound request ids are replaced with unique ids, so two peers using the same id never collide,
// and responses are routed back to the peer with its original id restored.
type Router[P comparable] struct {
	mu      sync.Mutex
	counter int64
	routes  map[int64]route[P]
	reverse map[route[P]]int64
}

// NewRouter returns an empty router
func NewRouter[P comparable]() *Router[P] {
	return &Router[P]{
		routes:  make(map[int64]route[P]),
		reverse: make(map[route[P]]int64),
	}
}

// Inbound rewrites the id of a request received from peer.
func (r *Router[P]) Inbound(peer P, req *Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	key := r.counter
	rt := route[P]{peer: peer, id: req.ID}
	r.routes[key] = rt
	r.reverse[rt] = key
	req.ID = NewNumberID(key)
}

// InboundNotification rewrites the request id referenced by a cancel notification from peer.
func (r *Router[P]) InboundNotification(peer P, n *Notification) {
	if n.Method != MethodCancelled || len(n.Params) == 0 {
		return
	}
	var params CancelledParams
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return
	}

	r.mu.Lock()
	key, ok := r.reverse[route[P]{peer: peer, id: params.RequestID}]
	r.mu.Unlock()
	if !ok {
		return
	}

	params.RequestID = NewNumberID(key)
	if js, err := json.Marshal(params); err == nil {
		n.Params = js
	}
}

// Outbound restores the original id of a response and returns the peer it belongs to.
func (r *Router[P]) Outbound(resp *Response) (P, bool) {
	var zero P
	key, ok := resp.ID.Number()
	if !ok {
		return zero, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[key]
	if !ok {
		return zero, false
	}
	delete(r.routes, key)
	delete(r.reverse, rt)
	resp.ID = rt.id
	return rt.peer, true
}

// Forget drops the pending routes of a peer that went away.
func (r *Router[P]) Forget(peer P) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, rt := range r.routes {
		if rt.peer == peer {
			delete(r.routes, key)
			delete(r.reverse, rt)
		}
	}
}

// Pending returns the number of requests waiting for a response
func (r *Router[P]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}
