package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/uconnect/uconnect/internal/auth"
	"github.com/uconnect/uconnect/internal/models"
	apperrors "github.com/uconnect/uconnect/pkg/errors"
	"github.com/uconnect/uconnect/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxAccountIDKey = "accountID"
	CtxRoleKey      = "accountRole"

	// SessionCookie carries the session token issued at login.
	SessionCookie = "token"
)

// Auth enforces session authentication. The token is read from the session
// cookie first and the Authorization header second.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, apperrors.ErrTokenMissing)
			c.Abort()
			return
		}

		claims, err := jwt.VerifySession(token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			if errors.Is(err, iauth.ErrTokenExpired) {
				response.Error(c, apperrors.ErrTokenExpired)
			} else {
				response.Error(c, apperrors.ErrTokenInvalid)
			}
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxAccountIDKey, claims.AccountID)
		c.Set(CtxRoleKey, claims.Role())

		c.Next()
	}
}

// RequireAdmin must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxRoleKey) != string(models.RoleAdmin) {
			response.Error(c, apperrors.ErrForbidden.WithMessage("Admin access required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		if token := strings.TrimSpace(cookie); token != "" {
			return token
		}
	}

	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}
