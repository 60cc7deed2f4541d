// Package idcode provides the rotating presence code primitive shared by the
// device protocol and the backend. A code is the opaque value a device
// broadcasts in place of a real user id.
package idcode

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Length is the fixed code length. It is chosen so the code always fits the
// fast-path advertisement field on the most constrained supported radio stack;
// the issuer enforces it, clients never truncate.
const Length = 6

// alphabet is base32 (RFC 4648 upper-case). 32^6 random values, and the code
// never encodes the user id.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// New generates a fresh random code.
func New() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate presence code: %w", err)
	}
	b := make([]byte, Length)
	for i, v := range buf {
		b[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(b), nil
}

// Valid reports whether s has the exact shape of a presence code. Malformed
// values observed on the radio or in an upload batch are discarded, never
// repaired.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}
