// Package eventbus provides the point-to-point request/reply transport used to
// reach a MongoDB service living in another process (or another part of the
// same process) by address.
//
// Three transports are available: an in-memory bus, NATS and AMQP. They share
// the same failure conventions so a caller cannot tell them apart: a consumer
// error travels back as a *ReplyError and an address nobody consumes yields
// ErrNoHandlers.
package eventbus

import (
	"context"
	"errors"
)

// Header keys reserved by the bus for failure replies.
const (
	HeaderError     = "x-error"
	HeaderErrorCode = "x-error-code"
	HeaderRequestID = "x-request-id"
)

// Message is a single request or reply travelling on the bus.
type Message struct {
	Address string
	Headers map[string]string
	Body    []byte
}

// Header returns the value of a header, or "" when missing.
func (m *Message) Header(key string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// SetHeader sets a header, allocating the header map on first use.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// Handler answers a request. A returned error is sent back to the requester
// as a *ReplyError.
type Handler func(ctx context.Context, msg *Message) (*Message, error)

// Subscription is an active consumer registration.
type Subscription interface {
	Unsubscribe() error
}

// Bus is a request/reply message bus addressed by plain strings.
// Implementations must be safe for concurrent use.
type Bus interface {
	// Request sends msg to msg.Address and waits for exactly one reply.
	Request(ctx context.Context, msg *Message) (*Message, error)
	// Consume registers h for address. Multiple consumers of the same
	// address share the load; each request is delivered to one of them.
	Consume(address string, h Handler) (Subscription, error)
	// Close releases the transport. Further calls fail with ErrClosed.
	Close() error
}

var (
	// ErrNoHandlers is returned when no consumer is registered for an address.
	ErrNoHandlers = errors.New("eventbus: no handlers for address")
	// ErrClosed is returned by a bus after Close.
	ErrClosed = errors.New("eventbus: bus closed")
)

// ReplyError is a consumer-side failure carried back to the requester.
type ReplyError struct {
	Code    string
	Message string
}

func (e *ReplyError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	if e.Message == "" || e.Message == e.Code {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is matches another *ReplyError, or any error whose ErrorCode equals Code.
func (e *ReplyError) Is(target error) bool {
	if e.Code == "" {
		return false
	}
	var re *ReplyError
	if errors.As(target, &re) {
		return re.Code == e.Code
	}
	var coded interface{ ErrorCode() string }
	if errors.As(target, &coded) {
		return coded.ErrorCode() == e.Code
	}
	return false
}

// NewReplyError converts a handler error into the wire form. Errors exposing
// an ErrorCode() method keep their code.
func NewReplyError(err error) *ReplyError {
	if err == nil {
		return nil
	}
	var re *ReplyError
	if errors.As(err, &re) {
		return re
	}
	out := &ReplyError{Message: err.Error()}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		out.Code = coded.ErrorCode()
	}
	return out
}

// failureReply encodes err as a reply message.
func failureReply(err error) *Message {
	re := NewReplyError(err)
	reply := &Message{}
	reply.SetHeader(HeaderError, re.Message)
	if re.Code != "" {
		reply.SetHeader(HeaderErrorCode, re.Code)
	}
	return reply
}

// replyFailure extracts a *ReplyError from a reply, or nil for a success reply.
func replyFailure(reply *Message) error {
	if reply == nil || reply.Headers == nil {
		return nil
	}
	msg, failed := reply.Headers[HeaderError]
	code := reply.Headers[HeaderErrorCode]
	if !failed && code == "" {
		return nil
	}
	return &ReplyError{Code: code, Message: msg}
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
