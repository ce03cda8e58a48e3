package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sodmaq/NestMongo/services/identity/internal/service"
)

type Identity interface {
	SignUp(ctx context.Context, in service.SignUpInput) (*service.UserView, error)
	VerifyEmail(ctx context.Context, token string) (*service.UserView, error)
	ResendVerificationEmail(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (*service.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*service.TokenPair, error)
}

type Recovery interface {
	ForgotPassword(ctx context.Context, email string) (string, error)
	VerifyOTP(ctx context.Context, in service.VerifyOTPInput) (*service.OTPVerification, error)
	ResetPassword(ctx context.Context, in service.ResetPasswordInput) (string, error)
}

type AuthHandler struct {
	Identity Identity
	Recovery Recovery
	Logger   *slog.Logger
}

type signupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required"`
}

type resetPasswordRequest struct {
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type userResponse struct {
	Message string            `json:"message"`
	User    *service.UserView `json:"user"`
}

func NewAuthHandler(identity Identity, recovery Recovery, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{Identity: identity, Recovery: recovery, Logger: logger}
}

func (h *AuthHandler) RegisterRoutes(r *gin.Engine) {
	g := r.Group("/auth")
	g.POST("/signup", h.SignUp)
	g.GET("/verify/:token", h.VerifyEmail)
	g.POST("/resend", h.Resend)
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/forgot-password", h.ForgotPassword)
	g.POST("/verify-otp", h.VerifyOTP)
	g.POST("/reset-password", h.ResetPassword)
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid payload")
		return
	}

	user, err := h.Identity.SignUp(c.Request.Context(), service.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, userResponse{Message: service.MsgVerificationSent, User: user})
}

func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	user, err := h.Identity.VerifyEmail(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, userResponse{Message: service.MsgEmailVerified, User: user})
}

func (h *AuthHandler) Resend(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid payload")
		return
	}
	if err := h.Identity.ResendVerificationEmail(c.Request.Context(), req.Email); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: service.MsgVerificationSent})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid payload")
		return
	}
	pair, err := h.Identity.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid payload")
		return
	}
	pair, err := h.Identity.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid payload")
		return
	}
	msg, err := h.Recovery.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: msg})
}

func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid payload")
		return
	}
	res, err := h.Recovery.VerifyOTP(c.Request.Context(), service.VerifyOTPInput{Email: req.Email, OTP: req.OTP})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "invalid payload")
		return
	}
	msg, err := h.Recovery.ResetPassword(c.Request.Context(), service.ResetPasswordInput{
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Token:           c.Query("token"),
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: msg})
}
