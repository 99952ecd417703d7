// Package message defines the values exchanged between transports, the
// server and the dispatcher.
//
// A Request is what a transport builds for every inbound Predict call; a
// Response is what the dispatcher hands back. Envelope is the serialized
// form used by the framed TCP transport, where both directions share one
// struct:
//
//   - On request:  Method and Payload are set, Kind and Error are empty.
//   - On response: Payload carries the result, or Kind and Error describe the failure.
package message

import (
	"fmt"
	"time"
)

// MethodPredict is the only method served.
const MethodPredict = "Predict"

// ErrorKind classifies a failed call. The empty kind means success.
type ErrorKind string

const (
	ErrorNone             ErrorKind = ""
	ErrorMalformedPayload ErrorKind = "MalformedPayload" // payload is not valid JSON text
	ErrorHandler          ErrorKind = "HandlerError"     // the handler failed
	ErrorUnavailable      ErrorKind = "Unavailable"      // server is not accepting calls
	ErrorRateLimited      ErrorKind = "RateLimited"      // rejected by the rate limit middleware
	ErrorUnknownMethod    ErrorKind = "UnknownMethod"    // method other than Predict
)

// Request is one inbound call.
type Request struct {
	ID      uint64    // Call identity, unique per transport instance
	Method  string    // Always MethodPredict for well-formed calls
	Payload []byte    // Raw JSON text as received
	Arrived time.Time // When the transport received the call
}

// Response is the outcome of one Request. Treat it as immutable once built.
type Response struct {
	Payload []byte    // Encoded result, set on success
	Kind    ErrorKind // Non-empty on failure
	Message string    // Failure description
}

// OK builds a successful response.
func OK(payload []byte) *Response {
	return &Response{Payload: payload}
}

// Fail builds a failed response.
func Fail(kind ErrorKind, format string, args ...any) *Response {
	return &Response{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Failed reports whether r carries an error.
func (r *Response) Failed() bool { return r.Kind != ErrorNone }

// Err returns r's failure as a *CallError, or nil on success.
func (r *Response) Err() error {
	if !r.Failed() {
		return nil
	}
	return &CallError{Kind: r.Kind, Message: r.Message}
}

// CallError is a failure produced by the server for one call, as seen by a
// client. Connection-level failures are never CallErrors.
type CallError struct {
	Kind    ErrorKind
	Message string
}

func (e *CallError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Envelope is the framed TCP representation of a request or response.
type Envelope struct {
	Method  string // Format: "Predict"
	Payload []byte // JSON text of the request or result
	Kind    string // ErrorKind of a failed response
	Error   string // Failure description of a failed response
}

// ToRequest turns a request envelope into a Request.
func (e *Envelope) ToRequest(id uint64, arrived time.Time) *Request {
	return &Request{ID: id, Method: e.Method, Payload: e.Payload, Arrived: arrived}
}

// ResponseEnvelope wraps a Response for the wire.
func ResponseEnvelope(method string, r *Response) *Envelope {
	return &Envelope{Method: method, Payload: r.Payload, Kind: string(r.Kind), Error: r.Message}
}

// Response converts a response envelope back into a Response.
func (e *Envelope) Response() *Response {
	return &Response{Payload: e.Payload, Kind: ErrorKind(e.Kind), Message: e.Error}
}
