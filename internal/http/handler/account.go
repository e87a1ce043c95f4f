package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/sso-auth/internal/service"
)

// LoginPage renders the sign in form. next and error are echoed escaped.
func (h *AuthHandler) LoginPage(c *gin.Context) {
	page := loginPage{Error: c.Query("error")}
	if next := c.Query("next"); next != "" {
		page.Next = safeNext(next)
	}
	if c.Query("registered") != "" {
		page.Notice = "Account created. You can sign in now."
	}
	h.render(c, http.StatusOK, "login", page)
}

// LoginSubmit verifies credentials, opens the SSO session and continues to next.
func (h *AuthHandler) LoginSubmit(c *gin.Context) {
	next := safeNext(c.PostForm("next"))

	sessionID, err := h.auth.Login(c.Request.Context(), c.PostForm("username"), c.PostForm("password"))
	if err != nil {
		oe := service.AsOAuthError(err)
		switch {
		case oe.Status == http.StatusTooManyRequests:
			h.render(c, http.StatusTooManyRequests, "login", loginPage{Next: next, Error: oe.Description})
		case oe.Kind == service.KindInternal:
			respondError(c, h.logger, err)
		default:
			c.Redirect(http.StatusSeeOther, loginURL(next, "Invalid credentials"))
		}
		return
	}

	h.setSessionCookie(c, sessionID)
	c.Redirect(http.StatusSeeOther, next)
}

// Logout ends the SSO session and expires the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), h.sessionID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.clearSessionCookie(c)
	c.Redirect(http.StatusSeeOther, "/login")
}

// RegisterPage renders the sign up form.
func (h *AuthHandler) RegisterPage(c *gin.Context) {
	h.render(c, http.StatusOK, "register", registerPage{})
}

// RegisterSubmit creates the account and sends the user to sign in.
func (h *AuthHandler) RegisterSubmit(c *gin.Context) {
	in := service.RegistrationInput{
		Username: c.PostForm("username"),
		Password: c.PostForm("password"),
		Email:    c.PostForm("email"),
	}

	if _, err := h.auth.Register(c.Request.Context(), in); err != nil {
		oe := service.AsOAuthError(err)
		if oe.Kind == service.KindInternal {
			respondError(c, h.logger, err)
			return
		}
		h.render(c, oe.Status, "register", registerPage{Username: in.Username, Email: in.Email, Error: oe.Description})
		return
	}
	c.Redirect(http.StatusSeeOther, "/login?registered=1")
}

func loginURL(next, message string) string {
	return "/login?next=" + url.QueryEscape(next) + "&error=" + url.QueryEscape(message)
}
