package protocol

import (
	"errors"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrControlCharacter is returned when a message body contains a control
// character other than the two allowed whitespace exceptions.
var ErrControlCharacter = errors.New("protocol: body contains a disallowed control character")

// ErrBodyLength is returned when a normalized body falls outside the
// allowed byte-length range.
var ErrBodyLength = errors.New("protocol: body length out of range")

const (
	MinBodyBytes = 1
	MaxBodyBytes = 4096
)

// NormalizeBody applies NFC normalization and validates that the result
// contains no control characters other than '\n' and '\t', and that its
// UTF-8 byte length is within [MinBodyBytes, MaxBodyBytes].
func NormalizeBody(s string) (string, error) {
	normalized := norm.NFC.String(s)
	for _, r := range normalized {
		if r == '\n' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return "", ErrControlCharacter
		}
	}
	n := len(normalized)
	if n < MinBodyBytes || n > MaxBodyBytes {
		return "", ErrBodyLength
	}
	return normalized, nil
}

// NormalizeNFC applies NFC normalization without the body-specific length
// and control-character checks; used for usernames, passwords, and room
// names before pattern validation.
func NormalizeNFC(s string) string {
	return norm.NFC.String(s)
}
