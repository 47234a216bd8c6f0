package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"engage-service/internal/domain/notification"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fakeTracker struct {
	calls []notification.State
}

func (f *fakeTracker) Acknowledge(_ context.Context, _ string, state notification.State) error {
	f.calls = append(f.calls, state)
	return nil
}

func newRouter(tr StateAcknowledger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewNotificationHandler(tr, zap.NewNop())
	r.POST("/notifications/:id/state", h.ReportState)
	return r
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestReportStateAccepted(t *testing.T) {
	tr := &fakeTracker{}
	w := post(newRouter(tr), "/notifications/01HX/state", `{"state":"RECEIVED_BY_CLIENT"}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(tr.calls) != 1 || tr.calls[0] != notification.StateReceivedByClient {
		t.Fatalf("calls = %v", tr.calls)
	}
}

func TestReportStateRejectsServerStates(t *testing.T) {
	tr := &fakeTracker{}
	r := newRouter(tr)

	for _, body := range []string{`{"state":"SENT"}`, `{"state":"FAILED"}`, `{"state":"bogus"}`, `{}`} {
		if w := post(r, "/notifications/x/state", body); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", body, w.Code)
		}
	}
	if len(tr.calls) != 0 {
		t.Fatalf("tracker called for rejected states: %v", tr.calls)
	}
}
