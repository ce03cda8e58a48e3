package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sodmaq/NestMongo/services/identity/internal/ephemeral"
	"github.com/sodmaq/NestMongo/services/identity/internal/notify"
	"github.com/sodmaq/NestMongo/services/identity/internal/security"
	"github.com/sodmaq/NestMongo/services/identity/internal/storage"
)

const (
	otpKeyPrefix        = "otp:"
	rateKeyPrefix       = "rate:"
	resetTokenKeyPrefix = "resetToken:"
	attemptsKeyPrefix   = "otpAttempts:"
	claimKeyPrefix      = "otpClaim:"
)

const (
	msgNoUserForEmail     = "User with this email does not exist"
	msgInvalidOTP         = "Invalid or expired OTP"
	msgEmailRequired      = "Email is required"
	msgTooManyAttempts    = "Too many attempts. Request new OTP"
	msgPasswordsDiffer    = "Passwords do not match"
	msgInvalidResetToken  = "Invalid or expired reset token"
	msgSendOTPFailed      = "Failed to send OTP"
	msgVerifyOTPFailed    = "Failed to verify OTP"
	msgResetFailed        = "Failed to reset password"
	passwordResetSubject  = "Password Reset"
	passwordResetNotified = "your password has been reset successfully"

	MsgOTPSent       = "OTP sent to your email"
	MsgOTPVerified   = "OTP verified successfully"
	MsgPasswordReset = "Password reset successfully"
)

type RecoveryDirectory interface {
	GetUserByEmail(ctx context.Context, email string, withPassword bool) (*storage.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type OTPCodec interface {
	Generate() (string, error)
	Hash(otp string) (string, error)
	Compare(otp, hash string) (bool, error)
}

type RecoveryConfig struct {
	OTPTTL        time.Duration
	RateLimitTTL  time.Duration
	ResetTokenTTL time.Duration
	MaxAttempts   int
}

func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		OTPTTL:        600 * time.Second,
		RateLimitTTL:  120 * time.Second,
		ResetTokenTTL: 600 * time.Second,
		MaxAttempts:   3,
	}
}

type otpRecord struct {
	HashedOTP string    `json:"hashedOtp"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

type VerifyOTPInput struct {
	Email string
	OTP   string
}

type OTPVerification struct {
	Message    string `json:"message"`
	ResetToken string `json:"resetToken"`
}

type ResetPasswordInput struct {
	Password        string
	ConfirmPassword string
	Token           string
}

// RecoveryFlow drives forgot-password, code verification and reset.
//
// Per email the flow moves NoRequest -> OtpIssued -> OtpVerified -> Consumed.
// Every intermediate state lives in the ephemeral store and expires on its own.
type RecoveryFlow struct {
	store       ephemeral.Store
	users       RecoveryDirectory
	hasher      PasswordHasher
	otp         OTPCodec
	resetTokens security.TokenGenerator
	notifier    notify.Notifier
	cfg         RecoveryConfig
	clock       security.Clock
	logger      *slog.Logger
	metrics     *Metrics
}

func NewRecoveryFlow(store ephemeral.Store, users RecoveryDirectory, hasher PasswordHasher, otp OTPCodec, resetTokens security.TokenGenerator, notifier notify.Notifier, cfg RecoveryConfig, logger *slog.Logger, metrics *Metrics) *RecoveryFlow {
	if logger == nil {
		logger = slog.Default()
	}
	if resetTokens == nil {
		resetTokens = security.OpaqueTokenGenerator{}
	}
	defaults := DefaultRecoveryConfig()
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = defaults.OTPTTL
	}
	if cfg.RateLimitTTL <= 0 {
		cfg.RateLimitTTL = defaults.RateLimitTTL
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = defaults.ResetTokenTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	return &RecoveryFlow{
		store:       store,
		users:       users,
		hasher:      hasher,
		otp:         otp,
		resetTokens: resetTokens,
		notifier:    notifier,
		cfg:         cfg,
		clock:       security.SystemClock{},
		logger:      logger,
		metrics:     metrics,
	}
}

func (f *RecoveryFlow) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := f.users.GetUserByEmail(ctx, email, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", newError(ErrNotFound, msgNoUserForEmail)
		}
		return "", internalError(msgSendOTPFailed, err)
	}

	rateKey := rateKeyPrefix + email
	admitted, err := f.store.SetIfAbsentWithExpiry(ctx, rateKey, "blocked", f.cfg.RateLimitTTL)
	if err != nil {
		return "", internalError(msgSendOTPFailed, err)
	}
	if !admitted {
		return "", f.rateLimited(ctx, rateKey)
	}

	code, err := f.otp.Generate()
	if err != nil {
		return "", internalError(msgSendOTPFailed, err)
	}
	hashed, err := f.otp.Hash(code)
	if err != nil {
		return "", internalError(msgSendOTPFailed, err)
	}

	raw, err := json.Marshal(otpRecord{HashedOTP: hashed, CreatedAt: f.clock.Now().UTC()})
	if err != nil {
		return "", internalError(msgSendOTPFailed, err)
	}
	if err := f.store.SetWithExpiry(ctx, otpKeyPrefix+email, string(raw), f.cfg.OTPTTL); err != nil {
		return "", internalError(msgSendOTPFailed, err)
	}
	if err := f.store.Delete(ctx, attemptsKeyPrefix+email, claimKeyPrefix+email); err != nil {
		return "", internalError(msgSendOTPFailed, err)
	}

	err = f.notifier.Send(ctx, notify.Message{
		Template: notify.TemplateOTP,
		To:       email,
		Subject:  "Password Reset OTP",
		Data: map[string]string{
			"name":               user.FullName,
			"otp":                code,
			"expires_in_minutes": strconv.Itoa(int(f.cfg.OTPTTL / time.Minute)),
		},
	})
	if err != nil {
		return "", internalError(msgSendOTPFailed, err)
	}

	f.metrics.otpIssued()
	return MsgOTPSent, nil
}

func (f *RecoveryFlow) rateLimited(ctx context.Context, rateKey string) error {
	ttl, err := f.store.TTL(ctx, rateKey)
	if err != nil && !errors.Is(err, ephemeral.ErrNotFound) {
		return internalError(msgSendOTPFailed, err)
	}
	seconds := int(math.Ceil(ttl.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return &Error{
		Kind:       ErrBadRequest,
		Message:    fmt.Sprintf("Wait %d seconds before requesting again", seconds),
		RetryAfter: time.Duration(seconds) * time.Second,
	}
}

// VerifyOTP checks a code for one email. Each evaluation first reserves an
// attempt on the atomic counter, so at most MaxAttempts comparisons run per
// issued code however many requests arrive concurrently.
func (f *RecoveryFlow) VerifyOTP(ctx context.Context, in VerifyOTPInput) (*OTPVerification, error) {
	if in.Email == "" {
		return nil, newError(ErrBadRequest, msgEmailRequired)
	}

	key := otpKeyPrefix + in.Email
	rec, err := f.loadRecord(ctx, key)
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			f.metrics.otpVerification("invalid")
			return nil, newError(ErrBadRequest, msgInvalidOTP)
		}
		return nil, internalError(msgVerifyOTPFailed, err)
	}
	if rec.Verified {
		f.metrics.otpVerification("invalid")
		return nil, newError(ErrBadRequest, msgInvalidOTP)
	}

	n, err := f.reserveAttempt(ctx, in.Email)
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			f.metrics.otpVerification("invalid")
			return nil, newError(ErrBadRequest, msgInvalidOTP)
		}
		return nil, internalError(msgVerifyOTPFailed, err)
	}
	if n > f.cfg.MaxAttempts {
		// The comparison that used the last attempt removes the record.
		f.metrics.otpVerification("exhausted")
		return nil, newError(ErrBadRequest, msgTooManyAttempts)
	}

	ok, err := f.otp.Compare(in.OTP, rec.HashedOTP)
	if err != nil {
		return nil, internalError(msgVerifyOTPFailed, err)
	}
	if !ok {
		remaining := f.cfg.MaxAttempts - n
		if remaining <= 0 {
			return nil, f.exhaust(ctx, in.Email)
		}
		f.metrics.otpVerification("mismatch")
		return nil, newError(ErrBadRequest, fmt.Sprintf("Invalid OTP. %d attempts remaining", remaining))
	}
	return f.complete(ctx, in.Email, rec)
}

func (f *RecoveryFlow) loadRecord(ctx context.Context, key string) (*otpRecord, error) {
	raw, err := f.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec otpRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode otp record: %w", err)
	}
	return &rec, nil
}

// reserveAttempt bumps the attempts counter, which expires with the code.
// It returns ErrNotFound when the code is already gone.
func (f *RecoveryFlow) reserveAttempt(ctx context.Context, email string) (int, error) {
	ttl, err := f.store.TTL(ctx, otpKeyPrefix+email)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		ttl = f.cfg.OTPTTL
	}
	n, err := f.store.IncrementWithExpiry(ctx, attemptsKeyPrefix+email, ttl)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// exhaust drops the code but keeps its counter until it expires, so a
// request that loaded the record earlier still sees the cap.
func (f *RecoveryFlow) exhaust(ctx context.Context, email string) error {
	if err := f.store.Delete(ctx, otpKeyPrefix+email); err != nil {
		return internalError(msgVerifyOTPFailed, err)
	}
	f.metrics.otpVerification("exhausted")
	return newError(ErrBadRequest, msgTooManyAttempts)
}

// complete marks the record verified and mints the reset token. The claim
// key makes the transition single-winner under concurrent verifications.
func (f *RecoveryFlow) complete(ctx context.Context, email string, rec *otpRecord) (*OTPVerification, error) {
	key := otpKeyPrefix + email
	ttl, err := f.store.TTL(ctx, key)
	if errors.Is(err, ephemeral.ErrNotFound) {
		return nil, newError(ErrBadRequest, msgInvalidOTP)
	}
	if err != nil {
		return nil, internalError(msgVerifyOTPFailed, err)
	}
	if ttl <= 0 {
		ttl = f.cfg.OTPTTL
	}

	won, err := f.store.SetIfAbsentWithExpiry(ctx, claimKeyPrefix+email, "1", ttl)
	if err != nil {
		return nil, internalError(msgVerifyOTPFailed, err)
	}
	if !won {
		f.metrics.otpVerification("invalid")
		return nil, newError(ErrBadRequest, msgInvalidOTP)
	}

	rec.Verified = true
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, internalError(msgVerifyOTPFailed, err)
	}
	if err := f.store.Replace(ctx, key, string(raw)); err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return nil, newError(ErrBadRequest, msgInvalidOTP)
		}
		return nil, internalError(msgVerifyOTPFailed, err)
	}

	token, err := f.resetTokens.New()
	if err != nil {
		return nil, internalError(msgVerifyOTPFailed, err)
	}
	if err := f.store.SetWithExpiry(ctx, resetTokenKeyPrefix+token, email, f.cfg.ResetTokenTTL); err != nil {
		return nil, internalError(msgVerifyOTPFailed, err)
	}

	f.metrics.otpVerification("verified")
	return &OTPVerification{Message: MsgOTPVerified, ResetToken: token}, nil
}

func (f *RecoveryFlow) ResetPassword(ctx context.Context, in ResetPasswordInput) (string, error) {
	if in.Password != in.ConfirmPassword {
		return "", newError(ErrBadRequest, msgPasswordsDiffer)
	}
	if in.Token == "" {
		return "", newError(ErrBadRequest, msgInvalidResetToken)
	}

	// Redemption consumes the token up front so concurrent replays lose.
	email, err := f.store.Take(ctx, resetTokenKeyPrefix+in.Token)
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return "", newError(ErrBadRequest, msgInvalidResetToken)
		}
		return "", internalError(msgResetFailed, err)
	}

	user, err := f.users.GetUserByEmail(ctx, email, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", newError(ErrBadRequest, msgUserNotFound)
		}
		return "", internalError(msgResetFailed, err)
	}

	hash, err := f.hasher.Hash(in.Password)
	if err != nil {
		return "", internalError(msgResetFailed, err)
	}
	if err := f.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", newError(ErrBadRequest, msgUserNotFound)
		}
		return "", internalError(msgResetFailed, err)
	}

	if err := f.store.Delete(ctx, otpKeyPrefix+email, attemptsKeyPrefix+email, claimKeyPrefix+email); err != nil {
		return "", internalError(msgResetFailed, err)
	}
	f.metrics.passwordReset()

	// The new password is already stored, so a lost notice is only logged.
	err = f.notifier.Send(ctx, notify.Message{
		Template: notify.TemplateNotification,
		To:       email,
		Subject:  passwordResetSubject,
		Data:     map[string]string{"message": passwordResetNotified},
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "password reset notice failed", "user_id", user.ID.String(), "error", err)
	}

	return MsgPasswordReset, nil
}
