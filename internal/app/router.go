// internal/app/router.go
package app

import (
	"context"
	"net/http"
	"time"

	campaignHandler "engage-service/internal/handlers/campaign"
	notifyHandler "engage-service/internal/handlers/notification"
	terminalHandler "engage-service/internal/handlers/terminal"
	wsHandler "engage-service/internal/handlers/websocket"
	"engage-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	TerminalHandler    *terminalHandler.TerminalHandler
	NotifHandler       *notifyHandler.NotificationHandler
	CampaignHandler    *campaignHandler.CampaignHandler
	WSHandler          *wsHandler.WebSocketHandler
	TerminalMiddleware *middleware.TerminalMiddleware

	// Ping checks the database for /health
	Ping func(ctx context.Context) error
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		if h.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := h.Ping(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "version": "1.0.0"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)
	api.GET("/ws/stats", h.WSHandler.GetStats)

	// ==================== Terminal Routes ====================
	device := api.Group("")
	device.Use(h.TerminalMiddleware.TerminalContext())
	{
		device.POST("/terminals/push-token", h.TerminalHandler.RegisterPushToken)
		device.POST("/geopositions", h.TerminalHandler.ReportGeoposition)
		device.POST("/notifications/:id/state", h.NotifHandler.ReportState)
	}

	// ==================== Dissemination Runs ====================
	campaigns := api.Group("/campaigns")
	{
		campaigns.POST("/:id/distribution", h.CampaignHandler.ScheduleDistribution)
		campaigns.POST("/:id/geopos-dissemination", h.CampaignHandler.ScheduleGeoposDissemination)
	}
}
