// Package token mints opaque tracking tokens.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Size is the number of random bytes in a token (256 bits).
const Size = 32

// MaxAttempts bounds how many times a colliding token is re-minted.
const MaxAttempts = 5

// Minter produces a new token. Repositories take one so tests can force collisions.
type Minter func() (string, error)

// New returns a URL-safe token carrying Size bytes of crypto/rand entropy.
func New() (string, error) {
	b := make([]byte, Size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Valid reports whether s has the shape of a token minted by New.
// Used to skip storage lookups for obviously bogus tracking requests.
func Valid(s string) bool {
	if len(s) != base64.RawURLEncoding.EncodedLen(Size) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}
