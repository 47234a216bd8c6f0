// internal/handlers/terminal/terminal_handler.go
package terminal

import (
	"context"
	"net/http"
	"time"

	"engage-service/internal/domain/terminal"
	"engage-service/internal/middleware"
	"engage-service/internal/pkg/response"
	"engage-service/internal/service/dissemination"

	"github.com/gin-gonic/gin"
)

type PushTokenRegistrar interface {
	RegisterPushToken(ctx context.Context, terminalID int64, token string) error
}

type GeopositionHandler interface {
	HandleGeoposition(ctx context.Context, ev dissemination.GeoposEvent) (int, error)
}

type TerminalHandler struct {
	terminals PushTokenRegistrar
	positions GeopositionHandler
}

func NewTerminalHandler(terminals PushTokenRegistrar, positions GeopositionHandler) *TerminalHandler {
	return &TerminalHandler{terminals: terminals, positions: positions}
}

// RegisterPushToken stores the provider token of the calling terminal.
func (h *TerminalHandler) RegisterPushToken(c *gin.Context) {
	t := middleware.MustGetTerminal(c)

	var req terminal.RegisterPushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.terminals.RegisterPushToken(c.Request.Context(), t.ID, req.PushToken); err != nil {
		response.FromError(c, "failed to register push token", err)
		return
	}

	response.Success(c, http.StatusOK, "push token registered", nil)
}

// ReportGeoposition records the terminal position and fires the armed zones
// containing it.
func (h *TerminalHandler) ReportGeoposition(c *gin.Context) {
	t := middleware.MustGetTerminal(c)

	var req terminal.GeopositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	fired, err := h.positions.HandleGeoposition(c.Request.Context(), dissemination.GeoposEvent{
		TerminalID: t.ID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		At:         time.Now(),
	})
	if err != nil {
		response.FromError(c, "failed to handle geoposition", err)
		return
	}

	response.Success(c, http.StatusAccepted, "geoposition accepted", gin.H{"fired": fired})
}
