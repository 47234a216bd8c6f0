// internal/handlers/notification/notification_handler.go
package notification

import (
	"context"
	"errors"
	"net/http"

	"engage-service/internal/domain/notification"
	xerrors "engage-service/internal/pkg/errors"
	"engage-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StateAcknowledger interface {
	Acknowledge(ctx context.Context, id string, state notification.State) error
}

type NotificationHandler struct {
	tracker StateAcknowledger
	logger  *zap.Logger
}

func NewNotificationHandler(tracker StateAcknowledger, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{tracker: tracker, logger: logger}
}

// ReportState takes a delivery callback from the client app. The answer is
// 202 for every well-formed report, whether or not the id is known.
func (h *NotificationHandler) ReportState(c *gin.Context) {
	var req notification.ClientStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	if !req.State.IsClientState() {
		response.ValidationError(c, "invalid state", xerrors.ErrInvalidCallbackState)
		return
	}

	if err := h.tracker.Acknowledge(c.Request.Context(), c.Param("id"), req.State); err != nil {
		if errors.Is(err, xerrors.ErrInvalidCallbackState) || errors.Is(err, xerrors.ErrInvalidInput) {
			response.ValidationError(c, "invalid state", err)
			return
		}
		h.logger.Error("failed to record client state",
			zap.String("state", string(req.State)),
			zap.Error(err),
		)
		response.Error(c, http.StatusInternalServerError, "failed to record state", nil)
		return
	}

	response.Accepted(c, "state accepted")
}
