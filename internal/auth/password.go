package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// argonParams are the fixed Argon2id cost parameters. They are also
// serialized onto each user record; nothing reads that string back, and
// verification always uses the current defaults.
type argonParams struct {
	memoryKiB  uint32
	iterations uint32
	threads    uint8
	keyLen     uint32
	saltLen    int
}

var defaultArgonParams = argonParams{
	memoryKiB:  64 * 1024,
	iterations: 3,
	threads:    1,
	keyLen:     32,
	saltLen:    16,
}

func (p argonParams) String() string {
	return fmt.Sprintf("argon2id$m=%d,t=%d,p=%d", p.memoryKiB, p.iterations, p.threads)
}

// hashPassword derives an Argon2id verifier for password using fresh
// random salt and the current default parameters.
func hashPassword(password string) (hash, salt []byte, params string, err error) {
	salt = make([]byte, defaultArgonParams.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, "", fmt.Errorf("auth: generate salt: %w", err)
	}
	hash = argon2.IDKey([]byte(password), salt, defaultArgonParams.iterations, defaultArgonParams.memoryKiB, defaultArgonParams.threads, defaultArgonParams.keyLen)
	return hash, salt, defaultArgonParams.String(), nil
}

// verifyPassword recomputes the Argon2id hash with the stored salt and the
// current default parameters and compares it to the stored hash in
// constant time.
func verifyPassword(password string, hash, salt []byte) bool {
	candidate := argon2.IDKey([]byte(password), salt, defaultArgonParams.iterations, defaultArgonParams.memoryKiB, defaultArgonParams.threads, defaultArgonParams.keyLen)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

// dummySalt is a fixed salt used only to normalize the timing of
// unsuccessful lookups against successful ones; its output is never
// compared to anything.
var dummySalt = []byte("a-fixed-dummy-salt-16b")[:16]

// dummyVerify performs a full Argon2id derivation with no dependency on
// whether the identifier actually exists, so that a login against an
// unknown identifier takes the same wall-clock time as one against a
// known identifier with a wrong password.
func dummyVerify(password string) {
	_ = argon2.IDKey([]byte(password), dummySalt, defaultArgonParams.iterations, defaultArgonParams.memoryKiB, defaultArgonParams.threads, defaultArgonParams.keyLen)
}
