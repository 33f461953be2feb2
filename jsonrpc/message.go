package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

const Version = "2.0"

// RawMessage is a raw JSON value that delays unmarshaling.
type RawMessage = json.RawMessage

// Message is one JSON-RPC 2.0 object on the wire. Requests carry a method
// and an id, notifications a method only, responses an id with a result or
// an error.
type Message struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      *ID        `json:"id,omitempty"`
	Method  string     `json:"method,omitempty"`
	Params  RawMessage `json:"params,omitempty"`
	Result  RawMessage `json:"result,omitempty"`
	Error   *Error     `json:"error,omitempty"`
}

// IsNotification reports whether m is a call that expects no response.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// Error is a JSON-RPC 2.0 error object. Positive codes are HTTP statuses:
// a failed call reports the status it would have answered over HTTP.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus returns the code when it is an HTTP status, else 0.
func (e *Error) HTTPStatus() int {
	if e.Code >= 100 && e.Code <= 999 {
		return e.Code
	}
	return 0
}

// ErrorData returns the error data when it is a JSON object.
func (e *Error) ErrorData() map[string]any {
	m, _ := e.Data.(map[string]any)
	return m
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ID is a JSON-RPC 2.0 request id: a number or a string. The zero ID
// encodes as null.
type ID struct {
	value any
}

// IntID creates an integer-valued request id.
func IntID(v int64) ID { return ID{value: v} }

// StringID creates a string-valued request id.
func StringID(v string) ID { return ID{value: v} }

func (id ID) Value() any { return id.value }

func (id ID) String() string {
	switch v := id.value.(type) {
	case int64:
		return fmt.Sprintf("n:%d", v)
	case string:
		return "s:" + v
	}
	return "null"
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		id.value = n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		id.value = s
		return nil
	}
	return errors.New("jsonrpc: id must be a number or a string")
}

// NewResponse answers the request with the given id. A non-nil err becomes
// the error object: *Error is sent as is, anything else as an internal error.
func NewResponse(id ID, result any, err error) *Message {
	resp := &Message{JSONRPC: Version, ID: &id}
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &Error{Code: CodeInternalError, Message: err.Error()}
		}
		resp.Error = rpcErr
		return resp
	}
	if result == nil {
		resp.Result = RawMessage("null")
		return resp
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &Error{Code: CodeInternalError, Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}

// errorResponse answers a message that could not be read as a call. Its id
// is null.
func errorResponse(code int, message string) *Message {
	return &Message{JSONRPC: Version, ID: &ID{}, Error: &Error{Code: code, Message: message}}
}
