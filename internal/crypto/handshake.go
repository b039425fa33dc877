// Package crypto implements the ephemeral X25519 key exchange and the
// AES-256-GCM authenticated transport that protects every frame after the
// handshake completes. The key-agreement and derivation idiom mirrors the
// curve25519+HKDF pattern used for encrypted transports elsewhere in this
// codebase's reference corpus: generate an ephemeral keypair, compute the
// ECDH shared secret, reject a low-order-point result, then derive
// direction-separated keys with HKDF-SHA256 so a reflected frame can never
// be decrypted with the wrong AEAD.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size, in bytes, of an X25519 public or private key.
	KeySize = 32

	// hkdfInfoClientToServer and hkdfInfoServerToClient are the fixed
	// ASCII labels mixed into key derivation for each direction, keeping
	// the two AEAD keys independent.
	hkdfInfoClientToServer = "chatcore v1 client-to-server"
	hkdfInfoServerToClient = "chatcore v1 server-to-client"
	hkdfSalt               = "chatcore-handshake-salt-v1"

	nonceSize = 12
	tagSize   = 16
)

// ErrLowOrderPoint is returned when an ECDH computation yields an all-zero
// shared secret, which indicates a malicious or degenerate peer public key.
var ErrLowOrderPoint = errors.New("crypto: computed shared secret is zero")

// KeyPair is an ephemeral X25519 key pair.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateKeyPair creates a fresh ephemeral X25519 key pair with the
// standard Curve25519 private-key clamping applied.
func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate private key: %w", err)
	}
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypto: compute public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SessionKeys holds the two direction-separated AES-256-GCM AEADs derived
// from one handshake, plus independent per-direction nonce counters.
type SessionKeys struct {
	send     cipher.AEAD
	recv     cipher.AEAD
	sendCtr  uint64
	recvCtr  uint64
}

// DeriveSessionKeys computes the ECDH shared secret between myPrivate and
// theirPublic, then derives the client→server and server→client AES-256-GCM
// keys via HKDF-SHA256. isClient selects which derived key is used for
// sending versus receiving.
func DeriveSessionKeys(myPrivate, theirPublic [KeySize]byte, isClient bool) (*SessionKeys, error) {
	shared, err := curve25519.X25519(myPrivate[:], theirPublic[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDH: %w", err)
	}
	if allZero(shared) {
		return nil, ErrLowOrderPoint
	}

	c2s, err := deriveKey(shared, hkdfInfoClientToServer)
	if err != nil {
		return nil, err
	}
	s2c, err := deriveKey(shared, hkdfInfoServerToClient)
	if err != nil {
		return nil, err
	}

	var sendKey, recvKey []byte
	if isClient {
		sendKey, recvKey = c2s, s2c
	} else {
		sendKey, recvKey = s2c, c2s
	}

	sendAEAD, err := newGCM(sendKey)
	if err != nil {
		return nil, err
	}
	recvAEAD, err := newGCM(recvKey)
	if err != nil {
		return nil, err
	}
	return &SessionKeys{send: sendAEAD, recv: recvAEAD}, nil
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, []byte(hkdfSalt), []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key %q: %w", info, err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new GCM: %w", err)
	}
	return gcm, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Seal encrypts plaintext under the next sending nonce and returns
// nonce || ciphertext || tag. The nonce counter increments even on error
// paths that never reach the wire, so counters stay monotonic per process.
func (sk *SessionKeys) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint64(nonce[4:], sk.sendCtr)
	sk.sendCtr++

	out := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	copy(out, nonce)
	return sk.send.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a frame of the form nonce || ciphertext || tag. It enforces
// that the embedded nonce counter matches the expected next value exactly
// — any regression or gap is treated as tampering or reordering and is
// fatal, per the transport's at-most-once delivery contract.
func (sk *SessionKeys) Open(frame []byte) ([]byte, error) {
	if len(frame) < nonceSize+tagSize {
		return nil, errors.New("crypto: frame too short to contain nonce and tag")
	}
	nonce := frame[:nonceSize]
	ctr := binary.BigEndian.Uint64(nonce[4:])
	if ctr != sk.recvCtr {
		return nil, fmt.Errorf("crypto: nonce counter mismatch: got %d, want %d", ctr, sk.recvCtr)
	}
	plaintext, err := sk.recv.Open(nil, nonce, frame[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt: %w", err)
	}
	sk.recvCtr++
	return plaintext, nil
}
