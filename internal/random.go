// Package internal holds small helpers shared by the root package.
package internal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NewChallengeToken returns an opaque token for a pending second factor
// challenge. 128 bits of entropy keeps the token short lived and
// unguessable.
func NewChallengeToken() (string, error) {
	return randomToken(16)
}

// NewSessionToken returns an opaque bearer token for a session.
func NewSessionToken() (string, error) {
	return randomToken(32)
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
