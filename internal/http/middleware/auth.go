// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the auth gateway: bearer token extraction, required
// and optional authentication, and role gates. Identity is taken from the
// verified token claims; no credential store lookup happens per request.
// GET /auth/me is the one route that re-reads the user record.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/phishguard-gateway/internal/auth"
)

// Context keys for the authenticated identity.
const (
	ctxKeyUserID = "userID"
	ctxKeyRole   = "userRole"
	ctxKeyBearer = "authToken"
)

// Roles accepted by the convenience gates.
const (
	RoleModerator = "MODERATOR"
	RoleAdmin     = "ADMIN"
)

// TokenVerifier verifies session tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme match is case-insensitive.
func BearerToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c *gin.Context) string { return c.GetString(ctxKeyUserID) }

// Role returns the authenticated role, or "".
func Role(c *gin.Context) string { return c.GetString(ctxKeyRole) }

// Bearer returns the verified token, for forwarding upstream.
func Bearer(c *gin.Context) string { return c.GetString(ctxKeyBearer) }

func attach(c *gin.Context, tok string, claims *auth.Claims) {
	c.Set(ctxKeyUserID, claims.UserID)
	c.Set(ctxKeyRole, claims.Role)
	c.Set(ctxKeyBearer, tok)
	l := LoggerFrom(c).With().Str("user_id", claims.UserID).Logger()
	attachLogger(c, &l)
}

// authenticate verifies the bearer token and attaches the identity. It
// aborts with 401 and returns false when the token is missing or invalid.
//
//   - no token: 401 "Access token required"
//   - invalid or expired token: 401 "Invalid or expired token"
func authenticate(c *gin.Context, v TokenVerifier) bool {
	tok := BearerToken(c)
	if tok == "" {
		abortError(c, http.StatusUnauthorized, "unauthorized", "Access token required", nil)
		return false
	}
	claims, err := v.Verify(tok)
	if err != nil {
		abortError(c, http.StatusUnauthorized, "unauthorized", "Invalid or expired token", nil)
		return false
	}
	attach(c, tok, claims)
	return true
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, v) {
			return
		}
		c.Next()
	}
}

// OptionalAuth attaches the identity when a valid token is present and
// otherwise continues anonymously. It never rejects.
func OptionalAuth(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok := BearerToken(c); tok != "" {
			if claims, err := v.Verify(tok); err == nil {
				attach(c, tok, claims)
			}
		}
		c.Next()
	}
}

// RequireRole authenticates like RequireAuth and then rejects identities
// whose role is not in roles with 403 "Access denied". The rest of the chain
// runs only after both checks pass.
func RequireRole(v TokenVerifier, roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[strings.ToUpper(r)] = struct{}{}
	}
	return func(c *gin.Context) {
		if !authenticate(c, v) {
			return
		}
		if _, ok := allowed[strings.ToUpper(Role(c))]; !ok {
			abortError(c, http.StatusForbidden, "forbidden", "Access denied", nil)
			return
		}
		c.Next()
	}
}

// AdminOnly allows ADMIN.
func AdminOnly(v TokenVerifier) gin.HandlerFunc { return RequireRole(v, RoleAdmin) }

// ModeratorOrAdmin allows MODERATOR and ADMIN.
func ModeratorOrAdmin(v TokenVerifier) gin.HandlerFunc {
	return RequireRole(v, RoleModerator, RoleAdmin)
}

// abortError writes the JSON error envelope and stops the chain.
func abortError(c *gin.Context, status int, code, msg string, extra gin.H) {
	body := gin.H{
		"request_id": requestIDFrom(c),
		"error":      code,
		"message":    msg,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

func requestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}
