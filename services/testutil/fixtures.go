package testutil

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const TestPassword = "Str0ng!Passw0rd"

// UniqueEmail returns an address no other test run will have created.
func UniqueEmail(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + "@identity.test"
}

// SignToken mints an HS256 token outside the service issuer, for tests that
// need forged, foreign or expired tokens.
func SignToken(secret []byte, issuer, audience string, subject uuid.UUID, email string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":   subject.String(),
		"email": email,
		"iss":   issuer,
		"aud":   []string{audience},
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
