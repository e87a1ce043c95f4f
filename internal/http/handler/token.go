package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/sso-auth/internal/http/middleware"
	"github.com/smallbiznis/sso-auth/internal/service"
)

// Token handles OAuth token grant exchanges.
func (h *AuthHandler) Token(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")

	creds, basic := clientCredentials(c)
	req := service.TokenRequest{
		GrantType:    c.PostForm("grant_type"),
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
		CodeVerifier: c.PostForm("code_verifier"),
		RefreshToken: c.PostForm("refresh_token"),
		Scope:        c.PostForm("scope"),
	}

	resp, err := h.auth.Token(c.Request.Context(), creds, req)
	if err != nil {
		if oe := service.AsOAuthError(err); basic && oe.Code == "invalid_client" {
			c.Header("WWW-Authenticate", `Basic realm="token"`)
		}
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Introspect reports token activity per RFC 7662.
func (h *AuthHandler) Introspect(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, h.auth.Introspect(c.Request.Context(), c.PostForm("token")))
}

// Revoke processes RFC 7009 token revocation. Unknown tokens still succeed.
func (h *AuthHandler) Revoke(c *gin.Context) {
	if err := h.auth.Revoke(c.Request.Context(), c.PostForm("token")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusOK)
}

// UserInfo returns standard OIDC userinfo data.
func (h *AuthHandler) UserInfo(c *gin.Context) {
	token, _ := middleware.BearerToken(c.GetHeader("Authorization"))
	info, err := h.auth.UserInfo(c.Request.Context(), token)
	if err != nil {
		if oe := service.AsOAuthError(err); oe.Status == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// clientCredentials reads HTTP Basic credentials, falling back to the form.
// Basic values are form-encoded per RFC 6749 section 2.3.1.
func clientCredentials(c *gin.Context) (service.ClientCredentials, bool) {
	if id, secret, ok := c.Request.BasicAuth(); ok {
		return service.ClientCredentials{ClientID: formDecode(id), ClientSecret: formDecode(secret)}, true
	}
	return service.ClientCredentials{
		ClientID:     strings.TrimSpace(c.PostForm("client_id")),
		ClientSecret: c.PostForm("client_secret"),
	}, false
}

func formDecode(v string) string {
	decoded, err := url.QueryUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}
