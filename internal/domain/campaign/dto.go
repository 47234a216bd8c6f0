// internal/domain/campaign/dto.go
package campaign

import "time"

type ScheduleDistributionRequest struct {
	FireAt *time.Time `json:"fire_at"`
}

type ScheduleGeoposDisseminationRequest struct {
	Latitude  float64   `json:"latitude" binding:"min=-90,max=90"`
	Longitude float64   `json:"longitude" binding:"min=-180,max=180"`
	RadiusKm  float64   `json:"radius_km" binding:"required,gt=0"`
	StartAt   time.Time `json:"start_at" binding:"required"`
	EndAt     time.Time `json:"end_at" binding:"required"`
	MaxFires  int       `json:"max_fires" binding:"min=0"`
}

type DisseminationResponse struct {
	CampaignID      int64    `json:"campaign_id"`
	DisseminationID string   `json:"dissemination_id"`
	JobGroup        JobGroup `json:"job_group"`
}
