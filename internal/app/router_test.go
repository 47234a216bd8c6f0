package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"engage-service/internal/domain/terminal"
	campaignHandler "engage-service/internal/handlers/campaign"
	notifyHandler "engage-service/internal/handlers/notification"
	terminalHandler "engage-service/internal/handlers/terminal"
	wsHandler "engage-service/internal/handlers/websocket"
	"engage-service/internal/middleware"
	xerrors "engage-service/internal/pkg/errors"
	"engage-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type noTerminals struct{}

func (noTerminals) Touch(context.Context, terminal.Identity) (*terminal.Terminal, error) {
	return nil, fmt.Errorf("no identity headers: %w", xerrors.ErrInvalidInput)
}

func testEngine(ping func(context.Context) error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	logger := zap.NewNop()
	SetupRouter(r, logger, &Handlers{
		TerminalHandler:    terminalHandler.NewTerminalHandler(nil, nil),
		NotifHandler:       notifyHandler.NewNotificationHandler(nil, logger),
		CampaignHandler:    campaignHandler.NewCampaignHandler(nil),
		WSHandler:          wsHandler.NewWebSocketHandler(websocket.NewHub(logger), logger),
		TerminalMiddleware: middleware.NewTerminalMiddleware(noTerminals{}),
		Ping:               ping,
	})
	return r
}

func TestHealth(t *testing.T) {
	ok := testEngine(func(context.Context) error { return nil })
	w := httptest.NewRecorder()
	ok.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	down := testEngine(func(context.Context) error { return errors.New("db down") })
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestTerminalRoutesRequireIdentity(t *testing.T) {
	r := testEngine(nil)
	for _, path := range []string{"/api/v1/terminals/push-token", "/api/v1/geopositions", "/api/v1/notifications/abc/state"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", path, w.Code)
		}
	}
}
