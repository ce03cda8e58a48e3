package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/sodmaq/NestMongo/libs/auth"
	"github.com/sodmaq/NestMongo/services/identity/internal/security"
	"github.com/sodmaq/NestMongo/services/identity/internal/storage"
)

type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
}

// AccessGuard resolves access tokens to identities for libs/auth middleware.
type AccessGuard struct {
	tokens TokenIssuer
	users  UserLookup
}

var _ auth.Authenticator = (*AccessGuard)(nil)

func NewAccessGuard(tokens TokenIssuer, users UserLookup) *AccessGuard {
	return &AccessGuard{tokens: tokens, users: users}
}

func (g *AccessGuard) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	claims, err := g.tokens.Verify(security.AccessToken, token)
	if err != nil {
		return auth.Identity{}, unauthorized()
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return auth.Identity{}, unauthorized()
	}

	user, err := g.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.Identity{}, unauthorized()
		}
		return auth.Identity{}, internalError("user lookup failed", err)
	}

	return auth.Identity{
		UserID:     user.ID.String(),
		Email:      user.Email,
		Roles:      user.Roles,
		IsVerified: user.IsVerified,
	}, nil
}

func unauthorized() error {
	return &Error{Kind: ErrUnauthorized, Message: "invalid token", Err: auth.ErrInvalidToken}
}
