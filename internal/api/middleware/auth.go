package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxUserID = "userID"
	CtxRole   = "role"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores userID (uuid.UUID) and role (string) in the gin context.
func JWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			AbortAuth(c, domain.ErrUnauthorized)
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			AbortAuth(c, err)
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			AbortAuth(c, err)
			return
		}

		c.Set(CtxUserID, userID)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RoleMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// RoleMiddleware ensures the authenticated user has one of the allowed roles.
// Must be placed after JWTMiddleware in the chain.
func RoleMiddleware(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		if !allowed[GetRole(c)] {
			AbortAuth(c, domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

// AbortAuth ends the request with the error envelope for an authentication
// or authorisation failure. Errors outside that family are reported as an
// invalid token.
func AbortAuth(c *gin.Context, err error) {
	status, code := http.StatusUnauthorized, "ERR_TOKEN_INVALID"
	switch {
	case !domain.IsAuthError(err):
		err = domain.ErrTokenInvalid
	case errors.Is(err, domain.ErrForbidden):
		status, code, err = http.StatusForbidden, "ERR_FORBIDDEN", domain.ErrForbidden
	case errors.Is(err, domain.ErrUnauthorized):
		code, err = "ERR_UNAUTHORIZED", domain.ErrUnauthorized
	case errors.Is(err, domain.ErrTokenExpired):
		code, err = "ERR_TOKEN_EXPIRED", domain.ErrTokenExpired
	default:
		err = domain.ErrTokenInvalid
	}
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"code":    code,
		"error":   err.Error(),
	})
}

// OperatorMiddleware allows only operator-tier roles.
func OperatorMiddleware() gin.HandlerFunc {
	return RoleMiddleware(service.RoleOperator, service.RoleAdmin)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers: extract identity from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetUserID retrieves the authenticated user's UUID from the gin context.
// Returns uuid.Nil if the middleware was not applied or the value is missing.
func GetUserID(c *gin.Context) uuid.UUID {
	v, exists := c.Get(CtxUserID)
	if !exists {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

// GetRole retrieves the authenticated user's role string from the gin context.
func GetRole(c *gin.Context) string {
	v, _ := c.Get(CtxRole)
	r, _ := v.(string)
	return r
}
