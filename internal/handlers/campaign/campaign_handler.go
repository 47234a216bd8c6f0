// internal/handlers/campaign/campaign_handler.go
package campaign

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"engage-service/internal/domain/campaign"
	"engage-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type DisseminationScheduler interface {
	ScheduleDistribution(ctx context.Context, campaignID int64, fireAt time.Time) (string, error)
	ScheduleGeoposDissemination(ctx context.Context, campaignID int64, run campaign.GeoposRun) (string, error)
}

type CampaignHandler struct {
	disseminations DisseminationScheduler
}

func NewCampaignHandler(disseminations DisseminationScheduler) *CampaignHandler {
	return &CampaignHandler{disseminations: disseminations}
}

// ScheduleDistribution schedules a one-shot broadcast of the campaign. A
// missing fire_at means now.
func (h *CampaignHandler) ScheduleDistribution(c *gin.Context) {
	campaignID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid campaign ID", err)
		return
	}

	var req campaign.ScheduleDistributionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "invalid request", err)
			return
		}
	}
	fireAt := time.Now()
	if req.FireAt != nil {
		fireAt = *req.FireAt
	}

	id, err := h.disseminations.ScheduleDistribution(c.Request.Context(), campaignID, fireAt)
	if err != nil {
		response.FromError(c, "failed to schedule distribution", err)
		return
	}

	response.Success(c, http.StatusCreated, "distribution scheduled", campaign.DisseminationResponse{
		CampaignID:      campaignID,
		DisseminationID: id,
		JobGroup:        campaign.JobGroupDistribution,
	})
}

// ScheduleGeoposDissemination arms the campaign for a zone and time window.
func (h *CampaignHandler) ScheduleGeoposDissemination(c *gin.Context) {
	campaignID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid campaign ID", err)
		return
	}

	var req campaign.ScheduleGeoposDisseminationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	run := campaign.GeoposRun{
		Zone: campaign.GeoZone{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			RadiusKm:  req.RadiusKm,
		},
		Start:    req.StartAt,
		End:      req.EndAt,
		MaxFires: req.MaxFires,
	}

	id, err := h.disseminations.ScheduleGeoposDissemination(c.Request.Context(), campaignID, run)
	if err != nil {
		response.FromError(c, "failed to schedule geopos dissemination", err)
		return
	}

	response.Success(c, http.StatusCreated, "geopos dissemination scheduled", campaign.DisseminationResponse{
		CampaignID:      campaignID,
		DisseminationID: id,
		JobGroup:        campaign.JobGroupScheduledGeoposDissemination,
	})
}
