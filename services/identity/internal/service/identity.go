package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sodmaq/NestMongo/services/identity/internal/notify"
	"github.com/sodmaq/NestMongo/services/identity/internal/security"
	"github.com/sodmaq/NestMongo/services/identity/internal/storage"
)

const (
	msgEmailInUse        = "Email already in use"
	msgUserNotFound      = "User not found"
	msgAlreadyVerified   = "User already verified"
	msgInvalidVerifyTok  = "Invalid or expired verification token"
	msgNoSuchUser        = "There is no user with this email"
	msgInvalidPassword   = "Invalid password"
	msgUnverified        = "Please verify your email to login. Check your inbox."
	msgInvalidRefreshTok = "Invalid refresh token"

	MsgVerificationSent = "Verification email sent"
	MsgEmailVerified    = "Email successfully verified"
)

type UserDirectory interface {
	CreateUser(ctx context.Context, in storage.NewUser) (*storage.User, error)
	GetUserByEmail(ctx context.Context, email string, withPassword bool) (*storage.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (*storage.User, error)
	TouchVerificationSentAt(ctx context.Context, id uuid.UUID, at time.Time) error
	ListUsers(ctx context.Context, page, limit int) ([]storage.User, int, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

type TokenIssuer interface {
	Issue(class security.TokenClass, subject, email string) (string, error)
	Verify(class security.TokenClass, token string) (*security.Claims, error)
}

// UserView is the sanitized form of a user returned to clients.
type UserView struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"fullName"`
	Roles      []string  `json:"roles"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

func NewUserView(u *storage.User) *UserView {
	return &UserView{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Roles:      u.Roles,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type UserPage struct {
	Result      []UserView `json:"result"`
	TotalCount  int        `json:"totalCount"`
	TotalPages  int        `json:"totalPages"`
	CurrentPage int        `json:"currentPage"`
}

type SignUpInput struct {
	Email    string
	Password string
	FullName string
}

type IdentityService struct {
	users     UserDirectory
	hasher    PasswordHasher
	tokens    TokenIssuer
	notifier  notify.Notifier
	clientURL string
	clock     security.Clock
	logger    *slog.Logger
	metrics   *Metrics
}

func NewIdentityService(users UserDirectory, hasher PasswordHasher, tokens TokenIssuer, notifier notify.Notifier, clientURL string, logger *slog.Logger, metrics *Metrics) *IdentityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		notifier:  notifier,
		clientURL: strings.TrimRight(clientURL, "/"),
		clock:     security.SystemClock{},
		logger:    logger,
		metrics:   metrics,
	}
}

func (s *IdentityService) SignUp(ctx context.Context, in SignUpInput) (*UserView, error) {
	_, err := s.users.GetUserByEmail(ctx, in.Email, false)
	if err == nil {
		return nil, newError(ErrConflict, msgEmailInUse)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, internalError("user lookup failed", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, internalError("password hash failed", err)
	}

	sentAt := s.clock.Now().UTC()
	user, err := s.users.CreateUser(ctx, storage.NewUser{
		Email:              in.Email,
		PasswordHash:       hash,
		FullName:           in.FullName,
		Roles:              []string{storage.RoleUser},
		VerificationSentAt: &sentAt,
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			return nil, newError(ErrConflict, msgEmailInUse)
		}
		return nil, internalError("user create failed", err)
	}
	s.metrics.signup()

	// The account exists either way; resend covers a lost email.
	if err := s.sendVerification(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "verification email failed", "user_id", user.ID.String(), "error", err)
	}

	return NewUserView(user), nil
}

func (s *IdentityService) VerifyEmail(ctx context.Context, token string) (*UserView, error) {
	claims, err := s.tokens.Verify(security.VerificationToken, token)
	if err != nil {
		return nil, newError(ErrUnauthorized, msgInvalidVerifyTok)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, newError(ErrUnauthorized, msgInvalidVerifyTok)
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(err)
	}
	if user.IsVerified {
		return nil, newError(ErrConflict, msgAlreadyVerified)
	}

	user, err = s.users.MarkVerified(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyVerified) {
			return nil, newError(ErrConflict, msgAlreadyVerified)
		}
		return nil, s.lookupError(err)
	}
	return NewUserView(user), nil
}

func (s *IdentityService) ResendVerificationEmail(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, email, false)
	if err != nil {
		return s.lookupError(err)
	}
	if user.IsVerified {
		return newError(ErrConflict, msgAlreadyVerified)
	}

	if err := s.sendVerification(ctx, user); err != nil {
		return internalError("verification email failed", err)
	}
	if err := s.users.TouchVerificationSentAt(ctx, user.ID, s.clock.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "verification timestamp update failed", "user_id", user.ID.String(), "error", err)
	}
	return nil
}

func (s *IdentityService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.GetUserByEmail(ctx, email, true)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.login("unknown_user")
			return nil, newError(ErrForbidden, msgNoSuchUser)
		}
		return nil, internalError("user lookup failed", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		s.metrics.login("bad_password")
		return nil, newError(ErrForbidden, msgInvalidPassword)
	}
	if !user.IsVerified {
		s.metrics.login("unverified")
		return nil, newError(ErrForbidden, msgUnverified)
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, err
	}
	s.metrics.login("success")
	return pair, nil
}

func (s *IdentityService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Verify(security.RefreshToken, refreshToken)
	if err != nil {
		return nil, newError(ErrForbidden, msgInvalidRefreshTok)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, newError(ErrForbidden, msgInvalidRefreshTok)
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(err)
	}
	return s.issuePair(user)
}

func (s *IdentityService) GetUser(ctx context.Context, id uuid.UUID) (*UserView, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(err)
	}
	return NewUserView(user), nil
}

func (s *IdentityService) ListUsers(ctx context.Context, page, limit int) (*UserPage, error) {
	users, total, err := s.users.ListUsers(ctx, page, limit)
	if err != nil {
		return nil, internalError("list users failed", err)
	}

	result := make([]UserView, 0, len(users))
	for i := range users {
		result = append(result, *NewUserView(&users[i]))
	}
	if page < 1 {
		page = 1
	}
	totalPages := 0
	if limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return &UserPage{
		Result:      result,
		TotalCount:  total,
		TotalPages:  totalPages,
		CurrentPage: page,
	}, nil
}

func (s *IdentityService) issuePair(user *storage.User) (*TokenPair, error) {
	access, err := s.tokens.Issue(security.AccessToken, user.ID.String(), user.Email)
	if err != nil {
		return nil, internalError("access token sign failed", err)
	}
	refresh, err := s.tokens.Issue(security.RefreshToken, user.ID.String(), user.Email)
	if err != nil {
		return nil, internalError("refresh token sign failed", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *IdentityService) sendVerification(ctx context.Context, user *storage.User) error {
	token, err := s.tokens.Issue(security.VerificationToken, user.ID.String(), user.Email)
	if err != nil {
		return err
	}
	return s.notifier.Send(ctx, notify.Message{
		Template: notify.TemplateWelcomeVerify,
		To:       user.Email,
		Subject:  "Verify your email",
		Data: map[string]string{
			"name":       user.FullName,
			"verify_url": s.clientURL + "/auth/verify/" + token,
		},
	})
}

func (s *IdentityService) lookupError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return newError(ErrNotFound, msgUserNotFound)
	}
	return internalError("user lookup failed", err)
}
