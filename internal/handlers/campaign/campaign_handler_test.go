package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"engage-service/internal/domain/campaign"
	xerrors "engage-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeScheduler struct {
	fireAt time.Time
	run    campaign.GeoposRun
	err    error
}

func (f *fakeScheduler) ScheduleDistribution(_ context.Context, _ int64, fireAt time.Time) (string, error) {
	f.fireAt = fireAt
	return "dist-1", f.err
}

func (f *fakeScheduler) ScheduleGeoposDissemination(_ context.Context, _ int64, run campaign.GeoposRun) (string, error) {
	f.run = run
	return "geo-1", f.err
}

func newRouter(s DisseminationScheduler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewCampaignHandler(s)
	r.POST("/campaigns/:id/distribution", h.ScheduleDistribution)
	r.POST("/campaigns/:id/geopos-dissemination", h.ScheduleGeoposDissemination)
	return r
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestScheduleDistribution(t *testing.T) {
	s := &fakeScheduler{}
	w := post(newRouter(s), "/campaigns/4/distribution", `{"fire_at":"2030-01-02T03:04:05Z"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data campaign.DisseminationResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.DisseminationID != "dist-1" || resp.Data.CampaignID != 4 || resp.Data.JobGroup != campaign.JobGroupDistribution {
		t.Fatalf("response = %+v", resp.Data)
	}
	if !s.fireAt.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("fire_at = %v", s.fireAt)
	}
}

func TestScheduleDistributionConflict(t *testing.T) {
	s := &fakeScheduler{err: fmt.Errorf("campaign is running: %w", xerrors.ErrConflict)}
	if w := post(newRouter(s), "/campaigns/4/distribution", `{}`); w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestScheduleGeoposDissemination(t *testing.T) {
	s := &fakeScheduler{}
	body := `{"latitude":42,"longitude":42,"radius_km":5,"start_at":"2030-01-01T00:00:00Z","end_at":"2030-01-02T00:00:00Z","max_fires":3}`
	w := post(newRouter(s), "/campaigns/9/geopos-dissemination", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if s.run.Zone.RadiusKm != 5 || s.run.MaxFires != 3 || s.run.Zone.Latitude != 42 {
		t.Fatalf("run = %+v", s.run)
	}
}

func TestScheduleGeoposRejectsBadBody(t *testing.T) {
	s := &fakeScheduler{}
	if w := post(newRouter(s), "/campaigns/9/geopos-dissemination", `{"latitude":95,"radius_km":5}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if w := post(newRouter(s), "/campaigns/abc/distribution", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for bad id", w.Code)
	}
}
