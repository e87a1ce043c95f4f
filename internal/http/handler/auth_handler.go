package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/http/middleware"
	"github.com/smallbiznis/sso-auth/internal/service"
)

// SessionCookie carries the SSO session id.
const SessionCookie = "sso_session"

var errUnexpectedOutcome = errors.New("handler: unexpected authorize outcome")

// AuthHandler serves the browser facing pages and the OAuth endpoints.
type AuthHandler struct {
	auth      *service.AuthService
	discovery *service.DiscoveryService
	cfg       config.Config
	logger    *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(cfg config.Config, logger *zap.Logger, auth *service.AuthService, discovery *service.DiscoveryService) *AuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthHandler{auth: auth, discovery: discovery, cfg: cfg, logger: logger}
}

// OpenIDConfig returns the OpenID discovery document.
func (h *AuthHandler) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.discovery.OpenIDConfiguration())
}

// JWKS exposes the public signing keys.
func (h *AuthHandler) JWKS(c *gin.Context) {
	c.JSON(http.StatusOK, h.discovery.JWKS())
}

type authorizeForm struct {
	ResponseType        string `form:"response_type"`
	ClientID            string `form:"client_id"`
	RedirectURI         string `form:"redirect_uri"`
	Scope               string `form:"scope"`
	State               string `form:"state"`
	CodeChallenge       string `form:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method"`
	Nonce               string `form:"nonce"`
}

func (f authorizeForm) request() service.AuthorizeRequest {
	return service.AuthorizeRequest{
		ResponseType:        f.ResponseType,
		ClientID:            f.ClientID,
		RedirectURI:         f.RedirectURI,
		Scope:               f.Scope,
		State:               f.State,
		CodeChallenge:       f.CodeChallenge,
		CodeChallengeMethod: f.CodeChallengeMethod,
		Nonce:               f.Nonce,
	}
}

func (f authorizeForm) values() url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("response_type", f.ResponseType)
	set("client_id", f.ClientID)
	set("redirect_uri", f.RedirectURI)
	set("scope", f.Scope)
	set("state", f.State)
	set("code_challenge", f.CodeChallenge)
	set("code_challenge_method", f.CodeChallengeMethod)
	set("nonce", f.Nonce)
	return v
}

// Authorize runs the authorization endpoint. Validation failures are returned
// as JSON and never redirected, since the redirect_uri may be unverified.
func (h *AuthHandler) Authorize(c *gin.Context) {
	var form authorizeForm
	if err := c.ShouldBindQuery(&form); err != nil {
		badRequest(c, "Malformed request")
		return
	}

	result, err := h.auth.Authorize(c.Request.Context(), form.request(), h.sessionID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.follow(c, result, c.Request.URL.RequestURI())
}

// ConsentPage renders the consent prompt for a signed in user.
func (h *AuthHandler) ConsentPage(c *gin.Context) {
	var form authorizeForm
	if err := c.ShouldBindQuery(&form); err != nil {
		badRequest(c, "Malformed request")
		return
	}

	result, err := h.auth.ConsentPrompt(c.Request.Context(), form.request(), h.sessionID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.follow(c, result, c.Request.URL.RequestURI())
}

// ConsentSubmit applies the approve or deny decision.
func (h *AuthHandler) ConsentSubmit(c *gin.Context) {
	var form authorizeForm
	if err := c.ShouldBind(&form); err != nil {
		badRequest(c, "Malformed request")
		return
	}
	// The consent form posts response_type, but older pages may omit it.
	if form.ResponseType == "" {
		form.ResponseType = "code"
	}

	result, err := h.auth.SubmitConsent(c.Request.Context(), form.request(), c.PostForm("decision"), h.sessionID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.follow(c, result, "/consent?"+form.values().Encode())
}

// follow turns an authorize outcome into a response. next is where login
// should send the user back to.
func (h *AuthHandler) follow(c *gin.Context, result *service.AuthorizeResult, next string) {
	switch result.Outcome {
	case service.OutcomeLogin:
		c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(next))
	case service.OutcomeConsent:
		name := result.Client.Name
		if name == "" {
			name = result.Client.ClientID
		}
		h.render(c, http.StatusOK, "consent", consentPage{
			ClientName: name,
			Username:   result.Username,
			Scopes:     strings.Fields(result.Request.Scope),
			Request:    result.Request,
		})
	case service.OutcomeRedirect:
		c.Redirect(http.StatusFound, result.RedirectURL)
	default:
		respondError(c, h.logger, errUnexpectedOutcome)
	}
}

func (h *AuthHandler) sessionID(c *gin.Context) string {
	id, err := c.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(id)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, id string) {
	secure := h.cfg.SessionCookieSecure || middleware.IsSecureRequest(c.Request)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, id, int(h.cfg.SessionTTL.Seconds()), "/", "", secure, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	secure := h.cfg.SessionCookieSecure || middleware.IsSecureRequest(c.Request)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", secure, true)
}

// safeNext only allows same-origin relative paths.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") {
		return "/"
	}
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, `/\`) {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}

// respondError writes the {error, error_description} body. Internal causes are
// logged and never returned.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	oe := service.AsOAuthError(err)
	if oe.Kind == service.KindInternal {
		logger.Error("request failed",
			zap.String("request_id", middleware.RequestID(c)),
			zap.String("route", c.FullPath()),
			zap.Error(oe.Err),
		)
		_ = c.Error(oe)
	}
	c.AbortWithStatusJSON(oe.Status, gin.H{"error": oe.Code, "error_description": oe.Description})
}

func badRequest(c *gin.Context, desc string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": desc})
}
