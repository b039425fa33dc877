package server

import (
	"errors"

	"chatcore/internal/auth"
	"chatcore/internal/messaging"
	"chatcore/internal/protocol"
	"chatcore/internal/room"
	"chatcore/internal/store"
)

// toErrorEnvelope translates a service error into the wire Error (or
// AuthErr, via the caller) envelope. Unrecognized errors are reported as
// INTERNAL without leaking their text to the client.
func toErrorEnvelope(err error) protocol.Envelope {
	var rl *auth.RateLimitedError
	if errors.As(err, &rl) {
		return protocol.Envelope{Type: protocol.TypeError, Code: protocol.CodeRateLimited, Message: rl.Error(), RetryAfterMs: rl.RetryAfterMs}
	}

	var ae *auth.Error
	if errors.As(err, &ae) {
		return protocol.Envelope{Type: protocol.TypeError, Code: ae.Code, Message: ae.Message}
	}
	var re *room.Error
	if errors.As(err, &re) {
		return protocol.Envelope{Type: protocol.TypeError, Code: re.Code, Message: re.Message}
	}
	var me *messaging.Error
	if errors.As(err, &me) {
		return protocol.Envelope{Type: protocol.TypeError, Code: me.Code, Message: me.Message}
	}
	if errors.Is(err, store.ErrNotFound) {
		return protocol.Envelope{Type: protocol.TypeError, Code: protocol.CodeNotFound, Message: "no such room or user"}
	}
	return protocol.Envelope{Type: protocol.TypeError, Code: protocol.CodeInternal, Message: "internal server error"}
}
