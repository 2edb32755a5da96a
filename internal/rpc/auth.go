package rpc

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateToken returns a new random hex-encoded authentication token: two
// concatenated UUIDs (32 bytes total, both drawn from crypto/rand under
// the hood), enough entropy that guessing is infeasible.
func GenerateToken() (string, error) {
	a, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	b, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(a[:]) + hex.EncodeToString(b[:]), nil
}

// WriteTokenFile writes token to path with 0600 permissions, per spec.md
// §4.4's "token file it wrote at startup with 0600 permissions".
func WriteTokenFile(path, token string) error {
	return os.WriteFile(path, []byte(token), 0o600)
}

// ReadTokenFile reads the token written by WriteTokenFile.
func ReadTokenFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return string(b), nil
}

// tokensEqual compares two tokens in constant time so a failed auth
// attempt can't be used to bisect the token byte by byte via timing.
func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
