package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/dronehire/realtime-service/pkg/response"
)

const (
	UserIDKey     = "user_id"
	NameKey       = "username"
	RoleKey       = "role"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	TokenQueryKey = "token"
)

// Identity is the authenticated caller of an HTTP request.
type Identity struct {
	UserID int64
	Name   string
	Role   string
}

// TokenValidator resolves a bearer token to an identity.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
}

// AuthMiddleware validates bearer tokens for the HTTP API.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth returns a Gin middleware that rejects requests without a valid token.
// The token comes from the Authorization header, or the token query
// parameter for browser clients that cannot set headers.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query(TokenQueryKey)
		if authHeader := c.GetHeader(AuthHeaderKey); authHeader != "" {
			if !strings.HasPrefix(authHeader, BearerPrefix) {
				response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization format")
				c.Abort()
				return
			}
			token = strings.TrimPrefix(authHeader, BearerPrefix)
		}

		if token == "" {
			response.Unauthorized(c, "missing authorization token")
			c.Abort()
			return
		}

		identity, err := m.validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, identity.UserID)
		c.Set(NameKey, identity.Name)
		c.Set(RoleKey, identity.Role)

		c.Next()
	}
}

// GetIdentity extracts the caller set by RequireAuth.
func GetIdentity(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(int64)
	if !ok {
		return nil, false
	}
	return &Identity{
		UserID: id,
		Name:   c.GetString(NameKey),
		Role:   c.GetString(RoleKey),
	}, true
}
