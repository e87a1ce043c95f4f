package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/sso-auth/internal/service"
)

// DashboardHandler serves the operator dashboard aggregate.
type DashboardHandler struct {
	dashboard *service.DashboardService
	logger    *zap.Logger
}

func NewDashboardHandler(dashboard *service.DashboardService, logger *zap.Logger) *DashboardHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &DashboardHandler{dashboard: dashboard, logger: logger}
}

func (h *DashboardHandler) Get(c *gin.Context) {
	data, err := h.dashboard.Get(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, data)
}
