package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/energizer-project/rcond/internal/protocol"
)

// Session termination errors. Decode failures are reported with the
// protocol package errors (protocol.ErrMalformedPacket and friends).
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrProtocolViolation    = errors.New("protocol violation")
	ErrHandlerPanic         = errors.New("command handler panicked")
	ErrNoSecret             = errors.New("session requires a secret")
)

// StreamError is a read or write failure on the underlying transport.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Close reasons reported by Classify.
const (
	ReasonPeerClosed        = "peer_closed"
	ReasonMalformedPacket   = "malformed_packet"
	ReasonInvalidEncoding   = "invalid_encoding"
	ReasonSizeMismatch      = "size_mismatch"
	ReasonPacketTooLarge    = "packet_too_large"
	ReasonAuthFailed        = "auth_failed"
	ReasonProtocolViolation = "protocol_violation"
	ReasonHandlerPanic      = "handler_panic"
	ReasonStreamError       = "stream_error"
	ReasonShutdown          = "shutdown"
	ReasonUnknown           = "unknown"
)

// Classify maps the result of Session.Run to a stable reason label.
func Classify(err error) string {
	var streamErr *StreamError

	switch {
	case err == nil:
		return ReasonPeerClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonShutdown
	case errors.Is(err, ErrAuthenticationFailed):
		return ReasonAuthFailed
	case errors.Is(err, ErrProtocolViolation):
		return ReasonProtocolViolation
	case errors.Is(err, ErrHandlerPanic):
		return ReasonHandlerPanic
	case errors.Is(err, protocol.ErrSizeMismatch):
		return ReasonSizeMismatch
	case errors.Is(err, protocol.ErrInvalidEncoding):
		return ReasonInvalidEncoding
	case errors.Is(err, protocol.ErrPacketTooLarge):
		return ReasonPacketTooLarge
	case errors.Is(err, protocol.ErrMalformedPacket):
		return ReasonMalformedPacket
	case errors.As(err, &streamErr), errors.Is(err, io.ErrUnexpectedEOF):
		return ReasonStreamError
	default:
		return ReasonUnknown
	}
}

// IsClientFault reports whether err was caused by the peer misbehaving
// rather than by the transport or the server.
func IsClientFault(err error) bool {
	switch Classify(err) {
	case ReasonMalformedPacket, ReasonInvalidEncoding, ReasonSizeMismatch,
		ReasonPacketTooLarge, ReasonAuthFailed, ReasonProtocolViolation:
		return true
	}
	return false
}
