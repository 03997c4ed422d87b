package transport

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
)

// JSONRPCVersion is the only protocol version carried in envelopes.
const JSONRPCVersion = "2.0"

type idKind uint8

const (
	idNull idKind = iota
	idNumber
	idString
)

// RequestID is a JSON-RPC correlation id: a number, a string or null.
// The zero value is the null id. RequestID is comparable and can be used as a map key.
type RequestID struct {
	kind idKind
	num  int64
	str  string
}

// NewNumberID returns a numeric id
func NewNumberID(n int64) RequestID {
	return RequestID{kind: idNumber, num: n}
}

// NewStringID returns a string id
func NewStringID(s string) RequestID {
	return RequestID{kind: idString, str: s}
}

// IsNull returns true for the null id, used in responses to unparsable requests.
func (id RequestID) IsNull() bool {
	return id.kind == idNull
}

// Number returns the numeric value of the id, and false if the id is not a number
func (id RequestID) Number() (int64, bool) {
	return id.num, id.kind == idNumber
}

func (id RequestID) String() string {
	switch id.kind {
	case idNumber:
		return strconv.FormatInt(id.num, 10)
	case idString:
		return id.str
	default:
		return "null"
	}
}

// MarshalJSON implements json.Marshaler
func (id RequestID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idNumber:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case idString:
		return json.Marshal(id.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = RequestID{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "invalid string id")
		}
		*id = NewStringID(s)
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return errors.Newf("invalid request id: %s", string(data))
		}
		*id = NewNumberID(n)
	}
	return nil
}

// Request is a call that expects a Response with the same ID.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a one-way message without an ID.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error for the Request with the same ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// MessageType discriminates the envelope kinds
type MessageType int

const (
	MessageTypeRequest MessageType = iota + 1
	MessageTypeNotification
	MessageTypeResponse
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeNotification:
		return "notification"
	case MessageTypeResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Message is the envelope exchanged over a Transport.
// Exactly one of Request, Notification or Response is set, according to Type.
type Message struct {
	Type         MessageType
	Request      *Request
	Notification *Notification
	Response     *Response
}

// NewRequestMessage wraps a request
func NewRequestMessage(req *Request) *Message {
	return &Message{Type: MessageTypeRequest, Request: req}
}

// NewNotificationMessage wraps a notification
func NewNotificationMessage(n *Notification) *Message {
	return &Message{Type: MessageTypeNotification, Notification: n}
}

// NewResponseMessage wraps a response
func NewResponseMessage(resp *Response) *Message {
	return &Message{Type: MessageTypeResponse, Response: resp}
}

// NewErrorMessage returns a response message carrying rpcErr for the given id
func NewErrorMessage(id RequestID, rpcErr *Error) *Message {
	return NewResponseMessage(&Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   rpcErr,
	})
}

// Method returns the method of a request or notification, empty for responses.
func (m *Message) Method() string {
	switch m.Type {
	case MessageTypeRequest:
		return m.Request.Method
	case MessageTypeNotification:
		return m.Notification.Method
	}
	return ""
}

// ID returns the correlation id of a request or response.
func (m *Message) ID() RequestID {
	switch m.Type {
	case MessageTypeRequest:
		return m.Request.ID
	case MessageTypeResponse:
		return m.Response.ID
	}
	return RequestID{}
}

// MarshalJSON implements json.Marshaler
func (m *Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case MessageTypeRequest:
		return json.Marshal(m.Request)
	case MessageTypeNotification:
		return json.Marshal(m.Notification)
	case MessageTypeResponse:
		return json.Marshal(m.Response)
	}
	return nil, errors.Newf("invalid message type: %d", m.Type)
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Message) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// Decode parses one envelope.
// Malformed JSON yields an *Error with CodeParseError,
// a well-formed object that is not an envelope yields CodeInvalidRequest.
func Decode(data []byte) (*Message, error) {
	var env struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *RequestID      `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewError(CodeParseError, "parse error: %s", err.Error())
	}

	version := env.JSONRPC
	if version == "" {
		version = JSONRPCVersion
	}

	switch {
	case env.Method != "" && env.ID != nil:
		return NewRequestMessage(&Request{
			JSONRPC: version,
			ID:      *env.ID,
			Method:  env.Method,
			Params:  env.Params,
		}), nil
	case env.Method != "":
		return NewNotificationMessage(&Notification{
			JSONRPC: version,
			Method:  env.Method,
			Params:  env.Params,
		}), nil
	case env.ID != nil || env.Error != nil || env.Result != nil:
		resp := &Response{
			JSONRPC: version,
			Result:  env.Result,
			Error:   env.Error,
		}
		if env.ID != nil {
			resp.ID = *env.ID
		}
		if resp.Error == nil && len(resp.Result) == 0 {
			resp.Result = json.RawMessage("null")
		}
		return NewResponseMessage(resp), nil
	}
	return nil, NewError(CodeInvalidRequest, "invalid request: not a request, notification or response")
}
