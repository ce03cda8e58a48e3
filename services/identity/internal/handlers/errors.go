package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sodmaq/NestMongo/libs/httpmiddleware"
	"github.com/sodmaq/NestMongo/services/identity/internal/service"
)

const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeUnauthorized   = "UNAUTHORIZED"
	codeForbidden      = "FORBIDDEN"
	codeNotFound       = "NOT_FOUND"
	codeConflict       = "CONFLICT"
	codeRateLimited    = "RATE_LIMITED"
	codeInternalError  = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func invalidRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: codeInvalidRequest, Message: message})
}

// writeError maps service failures to the HTTP contract. Anything that is not
// a classified domain error is logged and reported without detail.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) || svcErr.Kind == service.ErrInternal {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", httpmiddleware.GetRequestID(c),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: codeInternalError, Message: "internal error"})
		return
	}

	switch svcErr.Kind {
	case service.ErrConflict:
		c.JSON(http.StatusConflict, errorResponse{Code: codeConflict, Message: svcErr.Message})
	case service.ErrNotFound:
		c.JSON(http.StatusNotFound, errorResponse{Code: codeNotFound, Message: svcErr.Message})
	case service.ErrUnauthorized:
		c.JSON(http.StatusUnauthorized, errorResponse{Code: codeUnauthorized, Message: svcErr.Message})
	case service.ErrForbidden:
		c.JSON(http.StatusForbidden, errorResponse{Code: codeForbidden, Message: svcErr.Message})
	case service.ErrBadRequest:
		if svcErr.RetryAfter > 0 {
			seconds := int(svcErr.RetryAfter.Seconds())
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.JSON(http.StatusBadRequest, errorResponse{Code: codeRateLimited, Message: svcErr.Message, RetryAfterSeconds: seconds})
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Code: codeInvalidRequest, Message: svcErr.Message})
	}
}
