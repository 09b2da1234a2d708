package middleware

import (
	"context"
	"net/http"

	"arcane-scribe/internal/auth"
	"arcane-scribe/utils"

	"github.com/gin-gonic/gin"
)

const (
	ownerIDKey = "owner_id"
	claimsKey  = "claims"
)

// TokenValidator is satisfied by *auth.Tokens.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
}

func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth resolves the caller's owner id from a bearer token or the
// access_token cookie.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := auth.ExtractBearer(c.GetHeader("Authorization"))

		// If no header token, try access_token cookie
		if tokenString == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				tokenString = cookie
			}
		}

		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		claims, err := a.tokens.Validate(c.Request.Context(), tokenString)
		if err != nil {
			utils.RespondWithError(c, http.StatusUnauthorized, "session_expired", "Your session has expired. Please log in again.", gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(ownerIDKey, claims.UserID)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// GetOwnerID returns the authenticated owner id, or "" outside RequireAuth.
func GetOwnerID(c *gin.Context) string {
	if v, exists := c.Get(ownerIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// SetOwnerID is used by trusted callers and tests that bypass token validation.
func SetOwnerID(c *gin.Context, ownerID string) {
	c.Set(ownerIDKey, ownerID)
}
