// Package protocol implements the wire format spoken between the orchestrator and
// tool provider processes.
//
// Every message is a single JSON-RPC 2.0 envelope terminated by a newline:
//
//	{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run_command","arguments":{"command":"ls"}}}
//	{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"main.go\n"}],"isError":false}}
//
// Key properties:
//   - One envelope per line; newlines inside content are escaped by the JSON string encoding
//   - Unknown fields are ignored on decode
//   - A malformed line yields a *ParseError, readers skip it and continue
//   - A request without an id is a notification and never gets a response
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Version is the JSON-RPC version carried by every envelope.
const Version = "2.0"

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ErrParse is the cause of every *ParseError.
var ErrParse = errors.New("parse error")

// ID is a JSON-RPC request id, either a number or a string.
// The zero value is the number 0.
type ID struct {
	str   string
	num   int64
	isStr bool
}

// NewNumberID returns a numeric id.
func NewNumberID(n int64) ID {
	return ID{num: n}
}

// NewStringID returns a string id.
func NewStringID(s string) ID {
	return ID{str: s, isStr: true}
}

// IsString reports whether the id was sent as a JSON string.
func (id ID) IsString() bool {
	return id.isStr
}

func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// Key returns a map key that tells the string "1" apart from the number 1.
func (id ID) Key() string {
	if id.isStr {
		return "s:" + id.str
	}
	return "n:" + strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = NewStringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Errorf("invalid id: %s", string(b))
	}
	v, err := n.Int64()
	if err != nil {
		return errors.Errorf("invalid id: %s", string(b))
	}
	*id = NewNumberID(v)
	return nil
}

// Error is the error object of a response envelope.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError returns a new protocol error.
func NewError(code int, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ParseError is returned by Decode for a line that is not a valid envelope.
type ParseError struct {
	// Code is CodeParseError for malformed JSON and
	// CodeInvalidRequest for JSON that is not an envelope.
	Code   int
	Line   []byte
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error %d: %s", e.Code, e.Reason)
}

// Unwrap allows errors.Is(err, ErrParse)
func (e *ParseError) Unwrap() error {
	return ErrParse
}

// ToError converts the parse error into the response error object.
func (e *ParseError) ToError() *Error {
	msg := "Parse error"
	if e.Code == CodeInvalidRequest {
		msg = "Invalid Request"
	}
	return &Error{Code: e.Code, Message: msg + ": " + e.Reason}
}

// Envelope is one line of wire traffic: a request, a notification or a response.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports a request expecting a response.
func (e *Envelope) IsRequest() bool {
	return e.Method != "" && e.ID != nil
}

// IsNotification reports a fire-and-forget request.
func (e *Envelope) IsNotification() bool {
	return e.Method != "" && e.ID == nil
}

// IsResponse reports a result or error response.
func (e *Envelope) IsResponse() bool {
	return e.Method == "" && (e.Result != nil || e.Error != nil)
}

// MarshalJSON emits "id":null on responses without an id, as JSON-RPC requires.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.ID == nil && e.Method == "" {
		return json.Marshal(struct {
			plain
			ID *ID `json:"id"`
		}{plain: plain(e)})
	}
	return json.Marshal(plain(e))
}

// NewRequest returns a request envelope. params may be nil.
func NewRequest(id ID, method string, params any) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{JSONRPC: Version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification returns a notification envelope. params may be nil.
func NewNotification(method string, params any) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult returns a successful response envelope.
func NewResult(id *ID, result any) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal result")
	}
	return &Envelope{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse returns an error response envelope, id may be nil.
func NewErrorResponse(id *ID, e *Error) *Envelope {
	return &Envelope{JSONRPC: Version, ID: id, Error: e}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}
	return raw, nil
}

// Encode returns the envelope as a single newline-terminated line.
func Encode(e *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, errors.Wrap(err, "failed to encode envelope")
	}
	return buf.Bytes(), nil
}

// Decode parses one line into an envelope.
// Any failure is returned as *ParseError.
func Decode(line []byte) (*Envelope, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, &ParseError{Code: CodeParseError, Line: line, Reason: "empty line"}
	}
	if line[0] != '{' {
		return nil, &ParseError{Code: CodeParseError, Line: line, Reason: "envelope must be a JSON object"}
	}

	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		code := CodeParseError
		if json.Valid(line) {
			// well-formed JSON with fields of the wrong type
			code = CodeInvalidRequest
		}
		return nil, &ParseError{Code: code, Line: line, Reason: err.Error()}
	}

	if e.JSONRPC != Version {
		return nil, &ParseError{Code: CodeInvalidRequest, Line: line, Reason: fmt.Sprintf("unsupported jsonrpc version %q", e.JSONRPC)}
	}
	if e.Method == "" && e.Result == nil && e.Error == nil {
		return nil, &ParseError{Code: CodeInvalidRequest, Line: line, Reason: "envelope has no method, result or error"}
	}
	if e.Method != "" && (e.Result != nil || e.Error != nil) {
		return nil, &ParseError{Code: CodeInvalidRequest, Line: line, Reason: "envelope has both method and result"}
	}
	if isJSONNull(e.Params) {
		e.Params = nil
	}
	return &e, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 4 && string(raw) == "null"
}
