package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/sso-auth/internal/jwt"
)

const accessClaimsKey = "accessClaims"

// TokenValidator verifies bearer access tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// Auth validates the Authorization header and attaches claims.
type Auth struct {
	Validator TokenValidator
}

// NewAuth builds the bearer middleware.
func NewAuth(validator TokenValidator) *Auth {
	return &Auth{Validator: validator}
}

// ValidateJWT ensures the request has a valid bearer token.
func (m *Auth) ValidateJWT(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		unauthorized(c, "Authorization header required.")
		return
	}
	token, ok := BearerToken(header)
	if !ok {
		unauthorized(c, "Bearer token required.")
		return
	}
	claims, err := m.Validator.ValidateAccessToken(token)
	if err != nil {
		unauthorized(c, "Invalid access token.")
		return
	}
	c.Set(accessClaimsKey, claims)
	c.Next()
}

// GetClaims exposes validated access token claims to handlers.
func GetClaims(c *gin.Context) (*jwt.Claims, bool) {
	value, ok := c.Get(accessClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*jwt.Claims)
	return claims, ok
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// IsSecureRequest reports whether the request arrived over TLS, directly or
// through a proxy that sets X-Forwarded-Proto.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func unauthorized(c *gin.Context, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": desc})
}
