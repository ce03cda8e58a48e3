package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const ContextIdentityKey = "identity"

// RoleTable maps "METHOD /route" (gin full path) to the roles allowed to call it.
// Routes absent from the table only require authentication.
type RoleTable map[string][]string

func (t RoleTable) Required(method, fullPath string) []string {
	return t[method+" "+fullPath]
}

func Middleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "missing token"})
			return
		}

		identity, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) {
				_ = c.Error(err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "message": "internal error"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid token"})
			return
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// RequireRoles must run after Middleware.
func RequireRoles(table RoleTable) gin.HandlerFunc {
	return func(c *gin.Context) {
		required := table.Required(c.Request.Method, c.FullPath())
		if len(required) == 0 {
			c.Next()
			return
		}

		identity, ok := IdentityFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "access denied: no user found on request"})
			return
		}
		if !identity.HasAnyRole(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "access denied: you do not have access to this resource"})
			return
		}
		c.Next()
	}
}

func IdentityFromContext(c *gin.Context) (Identity, bool) {
	val, ok := c.Get(ContextIdentityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := val.(Identity)
	return identity, ok
}
