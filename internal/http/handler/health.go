package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/repository"
)

const healthTimeout = 2 * time.Second

// HealthHandler reports dependency reachability.
type HealthHandler struct {
	db     repository.HealthChecker
	redis  redis.UniversalClient
	logger *zap.Logger
}

// NewHealthHandler builds the health endpoint.
func NewHealthHandler(db repository.HealthChecker, rdb redis.UniversalClient, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &HealthHandler{db: db, redis: rdb, logger: logger}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Health always answers 200; status is degraded when a dependency is down.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy", Database: "healthy", Redis: "healthy"}
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		resp.Database = "unhealthy"
		resp.Status = "degraded"
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		h.logger.Warn("redis health check failed", zap.Error(err))
		resp.Redis = "unhealthy"
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}
