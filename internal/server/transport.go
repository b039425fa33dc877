// Package server implements the TCP connection handler: the per-socket
// state machine that drives the handshake, authentication, command loop,
// keepalive, and shutdown described in the messaging spec. It is the
// component that wires every other internal package together, the same
// role the teacher's server.go/client.go pair plays for its WebTransport
// voice sessions, generalized from one control stream to a
// length-prefixed encrypted frame stream.
package server

import (
	"fmt"
	"io"

	"chatcore/internal/crypto"
	"chatcore/internal/protocol"
	"chatcore/internal/wire"
)

// writePlainError encodes an Error envelope and writes it as one frame
// without encryption. It is for the rare plaintext error frame sent
// before a connection has a derived key (e.g. the listener's
// over-capacity rejection).
func writePlainError(w io.Writer, code, message string) error {
	payload, err := protocol.Encode(protocol.Envelope{Type: protocol.TypeError, Code: code, Message: message})
	if err != nil {
		return fmt.Errorf("server: encode plain error: %w", err)
	}
	return wire.WriteFrame(w, payload)
}

// readEnvelope reads one frame, decrypts it with keys, and decodes the
// resulting plaintext as an Envelope.
func readEnvelope(r io.Reader, keys *crypto.SessionKeys) (protocol.Envelope, error) {
	frame, err := wire.ReadFrame(r)
	if err != nil {
		return protocol.Envelope{}, err
	}
	plaintext, err := keys.Open(frame)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("server: decrypt frame: %w", err)
	}
	return protocol.Decode(plaintext)
}

// writeEnvelope encrypts e and writes it as one frame to w.
func writeEnvelope(w io.Writer, keys *crypto.SessionKeys, e protocol.Envelope) error {
	plaintext, err := protocol.Encode(e)
	if err != nil {
		return fmt.Errorf("server: encode envelope: %w", err)
	}
	frame, err := keys.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("server: encrypt frame: %w", err)
	}
	return wire.WriteFrame(w, frame)
}
