package handler

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type loginPage struct {
	Next   string
	Error  string
	Notice string
}

type consentPage struct {
	ClientName string
	Username   string
	Scopes     []string
	Request    service.AuthorizeRequest
}

type registerPage struct {
	Username string
	Email    string
	Error    string
}

// render executes into a buffer first so a template failure never leaves a
// half written page behind.
func (h *AuthHandler) render(c *gin.Context, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("render page", zap.String("template", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal server error.")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}
