package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sodmaq/NestMongo/services/identity/internal/notify"
	"github.com/sodmaq/NestMongo/services/identity/internal/security"
)

func requireKind(t *testing.T, err error, kind Kind, message string) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	if message != "" {
		require.Equal(t, message, svcErr.Message)
	}
}

func TestSignUpDuplicateConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.identity.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "pw-1", FullName: "A"})
	require.NoError(t, err)

	_, err = env.identity.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "pw-2", FullName: "B"})
	requireKind(t, err, ErrConflict, "Email already in use")
}

func TestSignUpSendsVerificationLink(t *testing.T) {
	env := newTestEnv(t)

	view, err := env.identity.SignUp(context.Background(), SignUpInput{Email: "a@example.com", Password: "pw", FullName: "Ada"})
	require.NoError(t, err)
	assert.False(t, view.IsVerified)
	assert.Equal(t, []string{"user"}, view.Roles)

	msg := env.notifier.last(t, notify.TemplateWelcomeVerify)
	assert.Equal(t, "a@example.com", msg.To)
	assert.Equal(t, "Ada", msg.Data["name"])

	link := msg.Data["verify_url"]
	require.True(t, strings.HasPrefix(link, "http://app.test/auth/verify/"), link)
	token := strings.TrimPrefix(link, "http://app.test/auth/verify/")

	claims, err := env.tokens.Verify(security.VerificationToken, token)
	require.NoError(t, err)
	assert.Equal(t, view.ID.String(), claims.Subject)

	stored, err := env.users.GetUserByEmail(context.Background(), "a@example.com", true)
	require.NoError(t, err)
	assert.NotEqual(t, "pw", stored.PasswordHash)
	require.NotNil(t, stored.VerificationSentAt)
}

func TestSignUpSurvivesNotifierFailure(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errBoom

	view, err := env.identity.SignUp(context.Background(), SignUpInput{Email: "a@example.com", Password: "pw", FullName: "A"})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", view.Email)
}

func TestSignUpVerifyVerifyAgain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.identity.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "pw", FullName: "A"})
	require.NoError(t, err)
	link := env.notifier.last(t, notify.TemplateWelcomeVerify).Data["verify_url"]
	token := link[strings.LastIndex(link, "/")+1:]

	view, err := env.identity.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, view.IsVerified)

	_, err = env.identity.VerifyEmail(ctx, token)
	requireKind(t, err, ErrConflict, "User already verified")
}

func TestVerifyEmailRejectsForeignTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.verifiedUser(t, "a@example.com", "pw")
	access, err := env.tokens.Issue(security.AccessToken, id.String(), "a@example.com")
	require.NoError(t, err)

	_, err = env.identity.VerifyEmail(ctx, access)
	requireKind(t, err, ErrUnauthorized, "Invalid or expired verification token")

	_, err = env.identity.VerifyEmail(ctx, "not-a-jwt")
	requireKind(t, err, ErrUnauthorized, "")

	ghost, err := env.tokens.Issue(security.VerificationToken, uuid.NewString(), "ghost@example.com")
	require.NoError(t, err)
	_, err = env.identity.VerifyEmail(ctx, ghost)
	requireKind(t, err, ErrNotFound, "User not found")
}

func TestResendVerificationEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.identity.ResendVerificationEmail(ctx, "nobody@example.com")
	requireKind(t, err, ErrNotFound, "User not found")

	_, err = env.identity.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "pw", FullName: "A"})
	require.NoError(t, err)
	first := env.notifier.last(t, notify.TemplateWelcomeVerify).Data["verify_url"]

	env.clock.Advance(2 * time.Second)
	require.NoError(t, env.identity.ResendVerificationEmail(ctx, "a@example.com"))
	second := env.notifier.last(t, notify.TemplateWelcomeVerify).Data["verify_url"]
	assert.NotEqual(t, first, second)

	user, err := env.users.GetUserByEmail(ctx, "a@example.com", false)
	require.NoError(t, err)
	assert.True(t, user.VerificationSentAt.Equal(env.clock.Now()))

	_, err = env.users.MarkVerified(ctx, user.ID)
	require.NoError(t, err)
	err = env.identity.ResendVerificationEmail(ctx, "a@example.com")
	requireKind(t, err, ErrConflict, "User already verified")
}

func TestResendVerificationNotifierFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.identity.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "pw", FullName: "A"})
	require.NoError(t, err)

	env.notifier.err = errBoom
	err = env.identity.ResendVerificationEmail(ctx, "a@example.com")
	requireKind(t, err, ErrInternal, "")
	assert.ErrorIs(t, err, errBoom)
}

func TestLoginFailuresAreDistinct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.identity.Login(ctx, "nobody@example.com", "pw")
	requireKind(t, err, ErrForbidden, "There is no user with this email")

	_, err = env.identity.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "right", FullName: "A"})
	require.NoError(t, err)

	_, err = env.identity.Login(ctx, "a@example.com", "wrong")
	requireKind(t, err, ErrForbidden, "Invalid password")

	_, err = env.identity.Login(ctx, "a@example.com", "right")
	requireKind(t, err, ErrForbidden, "Please verify your email to login. Check your inbox.")
}

func TestLoginTokensUseTheirOwnSecrets(t *testing.T) {
	env := newTestEnv(t)
	id := env.verifiedUser(t, "a@example.com", "pw")

	pair, err := env.identity.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	access, err := env.tokens.Verify(security.AccessToken, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id.String(), access.Subject)
	assert.Equal(t, "a@example.com", access.Email)

	refresh, err := env.tokens.Verify(security.RefreshToken, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, id.String(), refresh.Subject)

	_, err = env.tokens.Verify(security.RefreshToken, pair.AccessToken)
	assert.ErrorIs(t, err, security.ErrInvalidToken)
	_, err = env.tokens.Verify(security.AccessToken, pair.RefreshToken)
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestRefreshIssuesDistinctPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.verifiedUser(t, "a@example.com", "pw")

	pair, err := env.identity.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	next, err := env.identity.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, next.AccessToken)

	_, err = env.identity.Refresh(ctx, pair.AccessToken)
	requireKind(t, err, ErrForbidden, "Invalid refresh token")

	env.users.remove("a@example.com")
	_, err = env.identity.Refresh(ctx, next.RefreshToken)
	requireKind(t, err, ErrNotFound, "User not found")
}

func TestRefreshTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.verifiedUser(t, "a@example.com", "pw")

	pair, err := env.identity.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	env.clock.Advance(env.tokens.TTL(security.RefreshToken) + time.Second)
	_, err = env.identity.Refresh(ctx, pair.RefreshToken)
	requireKind(t, err, ErrForbidden, "")
}

func TestDirectoryFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	env.users.lookupErr = errBoom

	_, err := env.identity.SignUp(context.Background(), SignUpInput{Email: "a@example.com", Password: "pw", FullName: "A"})
	requireKind(t, err, ErrInternal, "")
	assert.Equal(t, ErrInternal, KindOf(err))
	assert.Equal(t, ErrInternal, KindOf(errBoom))
}

func TestListUsersPaginates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := env.identity.SignUp(ctx, SignUpInput{Email: email, Password: "pw", FullName: email})
		require.NoError(t, err)
		env.clock.Advance(time.Second)
	}

	page, err := env.identity.ListUsers(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 1, page.CurrentPage)
	require.Len(t, page.Result, 2)
	assert.Equal(t, "c@example.com", page.Result[0].Email)

	page, err = env.identity.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Result, 1)
	assert.Equal(t, "a@example.com", page.Result[0].Email)
}

func TestGetUser(t *testing.T) {
	env := newTestEnv(t)
	id := env.verifiedUser(t, "a@example.com", "pw")

	view, err := env.identity.GetUser(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, view.IsVerified)

	_, err = env.identity.GetUser(context.Background(), uuid.New())
	requireKind(t, err, ErrNotFound, "User not found")
}
