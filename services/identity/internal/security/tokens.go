package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

type TokenClass string

const (
	AccessToken       TokenClass = "access"
	RefreshToken      TokenClass = "refresh"
	VerificationToken TokenClass = "verification"
)

type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type SigningKey struct {
	Secret []byte
	TTL    time.Duration
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// TokenIssuer signs and verifies tokens of each class under its own key.
// The class is also written to the audience claim.
type TokenIssuer struct {
	keys   map[TokenClass]SigningKey
	issuer string
	clock  Clock
}

func NewTokenIssuer(issuer string, access, refresh, verification SigningKey, clock Clock) (*TokenIssuer, error) {
	keys := map[TokenClass]SigningKey{
		AccessToken:       access,
		RefreshToken:      refresh,
		VerificationToken: verification,
	}
	seen := map[string]TokenClass{}
	for class, key := range keys {
		if len(key.Secret) == 0 {
			return nil, fmt.Errorf("%s token secret required", class)
		}
		if key.TTL <= 0 {
			return nil, fmt.Errorf("%s token ttl must be positive", class)
		}
		if other, dup := seen[string(key.Secret)]; dup {
			return nil, fmt.Errorf("%s and %s tokens share a secret", class, other)
		}
		seen[string(key.Secret)] = class
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenIssuer{keys: keys, issuer: issuer, clock: clock}, nil
}

func (i *TokenIssuer) TTL(class TokenClass) time.Duration {
	return i.keys[class].TTL
}

func (i *TokenIssuer) Issue(class TokenClass, subject, email string) (string, error) {
	key, ok := i.keys[class]
	if !ok {
		return "", fmt.Errorf("unknown token class %q", class)
	}

	now := i.clock.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{string(class)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(key.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key.Secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", class, err)
	}
	return signed, nil
}

func (i *TokenIssuer) Verify(class TokenClass, tokenString string) (*Claims, error) {
	key, ok := i.keys[class]
	if !ok {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(class)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return key.Secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
