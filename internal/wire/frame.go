// Package wire implements the length-prefixed frame codec used on every
// connection: a 4-byte big-endian length header followed by exactly that
// many payload bytes. Framing is transport-agnostic; callers are
// responsible for encryption above this layer.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the number of bytes used to encode the frame length.
	HeaderSize = 4

	// MinPayload and MaxPayload bound the payload length counted by the header.
	MinPayload = 1
	MaxPayload = 1 << 20 // 1_048_576 bytes
)

// ErrPayloadTooLarge is returned when a frame's declared length exceeds MaxPayload.
var ErrPayloadTooLarge = errors.New("wire: frame payload exceeds maximum size")

// ErrPayloadEmpty is returned when a frame's declared length is below MinPayload.
var ErrPayloadEmpty = errors.New("wire: frame payload must be at least one byte")

// ReadFrame reads one length-prefixed frame from r. Any short read, whether
// in the header or the payload, is a fatal connection error and is returned
// verbatim (wrapped) so callers can distinguish io.EOF (clean close before
// any bytes) from io.ErrUnexpectedEOF (torn frame).
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length < MinPayload {
		return nil, ErrPayloadEmpty
	}
	if length > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame to w. The header and payload
// are written from a single backing buffer so a single Write call carries
// the whole frame; combined with a per-connection single-writer goroutine
// (see internal/server) this prevents interleaving of concurrent frames.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) < MinPayload {
		return ErrPayloadEmpty
	}
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}
