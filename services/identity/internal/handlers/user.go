package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sodmaq/NestMongo/libs/auth"
	"github.com/sodmaq/NestMongo/services/identity/internal/service"
	"github.com/sodmaq/NestMongo/services/identity/internal/storage"
)

// Routes is the static role table for the user surface.
var Routes = auth.RoleTable{
	"GET /user": {storage.RoleAdmin},
}

type Users interface {
	GetUser(ctx context.Context, id uuid.UUID) (*service.UserView, error)
	ListUsers(ctx context.Context, page, limit int) (*service.UserPage, error)
}

type UserHandler struct {
	Users  Users
	Logger *slog.Logger
}

func NewUserHandler(users Users, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{Users: users, Logger: logger}
}

func (h *UserHandler) RegisterRoutes(r *gin.Engine, authn auth.Authenticator) {
	g := r.Group("/user", auth.Middleware(authn), auth.RequireRoles(Routes))
	g.GET("", h.List)
	g.GET("/me", h.Me)
	g.GET("/:id", h.Get)
}

func (h *UserHandler) Me(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: codeUnauthorized, Message: "missing user"})
		return
	}
	id, err := uuid.Parse(identity.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: codeUnauthorized, Message: "missing user"})
		return
	}
	h.respondUser(c, id)
}

func (h *UserHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		invalidRequest(c, "invalid user id")
		return
	}
	h.respondUser(c, id)
}

func (h *UserHandler) respondUser(c *gin.Context, id uuid.UUID) {
	user, err := h.Users.GetUser(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) List(c *gin.Context) {
	page := parsePositive(c.Query("page"), 1)
	limit := parsePositive(c.Query("limit"), 10)
	if limit > 100 {
		limit = 100
	}

	res, err := h.Users.ListUsers(c.Request.Context(), page, limit)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func parsePositive(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
