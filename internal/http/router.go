package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/config"
	"github.com/smallbiznis/sso-auth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/sso-auth/internal/http/middleware"
	"github.com/smallbiznis/sso-auth/internal/metrics"
	"github.com/smallbiznis/sso-auth/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	logger *zap.Logger,
	authHandler *handler.AuthHandler,
	dashboardHandler *handler.DashboardHandler,
	healthHandler *handler.HealthHandler,
	authMiddleware *httpmiddleware.Auth,
	rateLimiter *middleware.RateLimiter,
	m *metrics.Metrics,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(httpmiddleware.Metrics(m))
	r.Use(rateLimiter.Handler())
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/health", healthHandler.Health)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	r.GET("/.well-known/openid-configuration", authHandler.OpenIDConfig)
	r.GET("/.well-known/jwks.json", authHandler.JWKS)

	r.GET("/login", authHandler.LoginPage)
	r.POST("/login", authHandler.LoginSubmit)
	r.POST("/logout", authHandler.Logout)
	r.GET("/register", authHandler.RegisterPage)
	r.POST("/register", authHandler.RegisterSubmit)

	r.GET("/authorize", authHandler.Authorize)
	r.GET("/consent", authHandler.ConsentPage)
	r.POST("/consent", authHandler.ConsentSubmit)
	r.POST("/token", authHandler.Token)
	r.POST("/introspect", authHandler.Introspect)
	r.POST("/revoke", authHandler.Revoke)
	r.GET("/userinfo", authHandler.UserInfo)
	r.POST("/userinfo", authHandler.UserInfo)

	r.GET("/dashboard", authMiddleware.ValidateJWT, dashboardHandler.Get)

	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/login")
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Route not found."})
	})

	return r
}
