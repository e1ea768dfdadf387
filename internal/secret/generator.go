// Package secret produces the random tokens used as client credentials and
// user session tokens.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Size is the number of random bytes behind every generated secret. The
// encoded form is twice as long.
const Size = 32

// Generator returns a fresh secret. Stores accept one so tests can force
// collisions.
type Generator func() (string, error)

// Generate returns 32 bytes from the system CSPRNG as 64 lowercase hex
// characters. An error means the entropy source failed and the caller must
// abort.
func Generate() (string, error) {
	b := make([]byte, Size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Fixed returns a Generator that yields the given values in order and then
// fails. It exists for tests that need deterministic secrets.
func Fixed(values ...string) Generator {
	i := 0
	return func() (string, error) {
		if i >= len(values) {
			return "", fmt.Errorf("secret: fixed generator exhausted after %d values", len(values))
		}
		v := values[i]
		i++
		return v, nil
	}
}
