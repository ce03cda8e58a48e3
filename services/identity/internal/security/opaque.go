package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

type TokenGenerator interface {
	New() (string, error)
}

// OpaqueTokenGenerator returns 32 random bytes, base64url encoded.
type OpaqueTokenGenerator struct{}

func (OpaqueTokenGenerator) New() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
