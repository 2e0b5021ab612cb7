package signaling

import (
	"errors"
	"fmt"

	"pkt.systems/peerdoc/internal/token"
)

var (
	// ErrPeerNotFound is returned when a relay target has no session.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrConnClosed is returned by Conn.Send after the connection closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrQueueFull is returned by Conn.Send when the outbound queue is saturated.
	ErrQueueFull = errors.New("send queue full")
	// ErrNotJoined is returned for room-scoped messages sent before a join.
	ErrNotJoined = errors.New("not joined to a document")
)

// ProtocolError reports a malformed or out-of-state inbound message. The
// offending message is dropped; the connection stays open.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol error: " + e.Reason + ": " + e.Err.Error()
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErrorf(err error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// ReasonUnavailable is reported to a joiner when collaboration metadata could
// not be consulted.
const ReasonUnavailable token.Reason = "unavailable"

// AuthError reports a rejected token on join.
type AuthError struct {
	DocumentID string
	Reason     token.Reason
	Err        error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("join %s rejected: %s", e.DocumentID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Delivery is the outcome of sending one message to one connection. A
// non-nil Err is a delivery failure; it never aborts a broadcast.
type Delivery struct {
	ConnID string
	Err    error
}

// Failed returns the deliveries that did not succeed.
func Failed(deliveries []Delivery) []Delivery {
	var out []Delivery
	for _, d := range deliveries {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}
