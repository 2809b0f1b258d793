// Package jsonrpc defines the JSON-RPC envelope spoken on the tunnel's
// control channel.
//
// Requests and responses travel as WebSocket text frames. A request carries a
// numeric or string id, a method name and a positional params array; the
// response echoes the id with either a result or an error object.
//
// Error codes follow JSON-RPC 2.0:
//
//	-32700  parse error        malformed JSON in a text frame
//	-32600  invalid request    missing method, voucher batch below the minimum
//	-32601  method not found
//	-32602  invalid params     params not an array, bad shape, duplicate, below minimum
//	-32603  internal error
package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

// Version is the only JSON-RPC version this package speaks.
const Version = "2.0"

// Error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC call.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC reply. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object. It implements error so handlers can
// return it directly.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the numeric code.
func (e *Error) ErrorCode() int {
	return e.Code
}

// NewError creates an error object.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ParseError reports a malformed frame.
func ParseError(format string, args ...any) *Error {
	return NewError(CodeParseError, format, args...)
}

// InvalidRequest reports a request that is well-formed but not acceptable.
func InvalidRequest(format string, args ...any) *Error {
	return NewError(CodeInvalidRequest, format, args...)
}

// MethodNotFound reports an unknown method.
func MethodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, "method %q not found", method)
}

// InvalidParams reports malformed or rejected parameters.
func InvalidParams(format string, args ...any) *Error {
	return NewError(CodeInvalidParams, format, args...)
}

// InternalError reports a server-side failure.
func InternalError(format string, args ...any) *Error {
	return NewError(CodeInternalError, format, args...)
}

// AsError extracts a *Error from err, wrapping anything else as an internal
// error.
func AsError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return InternalError("%v", err)
}

// NullID is the id used when a request could not be parsed far enough to
// recover its own id.
var NullID = json.RawMessage("null")

// NewRequest builds a request with positional params.
func NewRequest(id int64, method string, params ...any) (*Request, error) {
	req := &Request{
		JSONRPC: Version,
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
	}
	for i, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal param %d: %w", i, err)
		}
		req.Params = append(req.Params, raw)
	}
	return req, nil
}

// NewResult builds a success response.
func NewResult(id json.RawMessage, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: normalizeID(id), Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Error: err}
}

// envelope is the loose decoding of a request frame. Fields stay raw so the
// id survives a badly typed method or params.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// ParseRequest decodes a text frame into a request.
//
// Only a frame that is not a JSON object yields a parse error and no request.
// Any other failure returns the partially decoded request alongside the error
// so the caller can echo its id: a missing or non-string method is an invalid
// request, and params that are not an array are invalid params.
func ParseRequest(data []byte) (*Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ParseError("invalid JSON: %v", err)
	}

	req := &Request{JSONRPC: env.JSONRPC, ID: env.ID}
	if len(env.Method) == 0 || json.Unmarshal(env.Method, &req.Method) != nil || req.Method == "" {
		req.Method = ""
		return req, InvalidRequest("missing method")
	}

	if len(env.Params) > 0 && string(env.Params) != "null" {
		if err := json.Unmarshal(env.Params, &req.Params); err != nil {
			return req, InvalidParams("params must be an array")
		}
	}
	return req, nil
}

// ParseResponse decodes a text frame into a response.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, ParseError("invalid JSON: %v", err)
	}
	return &resp, nil
}

// Err returns the response's error, or nil on success.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Decode unmarshals the result into v.
func (r *Response) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// IDCounter hands out monotonically increasing request ids.
type IDCounter struct {
	next atomic.Int64
}

// Next returns the next id, starting from 1.
func (c *IDCounter) Next() int64 {
	return c.next.Add(1)
}

// IDKey returns a canonical string form of a raw id for correlation tables.
func IDKey(id json.RawMessage) string {
	return string(normalizeID(id))
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return NullID
	}
	return id
}
