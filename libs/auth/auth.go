package auth

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal exposed to downstream handlers.
type Identity struct {
	UserID     string
	Email      string
	Roles      []string
	IsVerified bool
}

// HasAnyRole reports whether the identity holds at least one of required.
// An empty requirement is always satisfied.
func (i Identity) HasAnyRole(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range i.Roles {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// Authenticator resolves a raw bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

func ExtractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
