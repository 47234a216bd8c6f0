// internal/domain/campaign/entity.go
package campaign

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// JobGroup tags the kind of dissemination run a scheduler job belongs to.
type JobGroup string

const (
	JobGroupDistribution                 JobGroup = "DISTRIBUTION"
	JobGroupScheduledGeoposDissemination JobGroup = "SCHEDULED_GEOPOS_DISSEMINATION"
)

// Job data keys.
const (
	JobDataID         = "ID"
	JobDataTerminalID = "TERMINAL_ID"
)

type Campaign struct {
	ID      int64  `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	Subject string `json:"subject" db:"subject"`
	Body    string `json:"body" db:"body"`

	// Optional custom payload echoed to the client app
	CustomKey  sql.NullString `json:"custom_key,omitempty" db:"custom_key"`
	CustomData sql.NullString `json:"custom_data,omitempty" db:"custom_data"`

	// Targeting; empty means every platform
	TargetPlatforms pq.StringArray `json:"target_platforms,omitempty" db:"target_platforms"`

	Status CampaignStatus `json:"status" db:"status"`

	// Active dissemination run, at most one is set
	DistributionID                 sql.NullString `json:"distribution_id,omitempty" db:"distribution_id"`
	ScheduledGeoposDisseminationID sql.NullString `json:"scheduled_geopos_dissemination_id,omitempty" db:"scheduled_geopos_dissemination_id"`

	// Run parameters persisted so runs can be restored after a restart
	FireAt        sql.NullTime    `json:"fire_at,omitempty" db:"fire_at"`
	ZoneLatitude  sql.NullFloat64 `json:"zone_latitude,omitempty" db:"zone_latitude"`
	ZoneLongitude sql.NullFloat64 `json:"zone_longitude,omitempty" db:"zone_longitude"`
	ZoneRadiusKm  sql.NullFloat64 `json:"zone_radius_km,omitempty" db:"zone_radius_km"`
	WindowStart   sql.NullTime    `json:"window_start,omitempty" db:"window_start"`
	WindowEnd     sql.NullTime    `json:"window_end,omitempty" db:"window_end"`
	MaxFires      sql.NullInt32   `json:"max_fires,omitempty" db:"max_fires"`
	FiresUsed     int32           `json:"fires_used" db:"fires_used"`

	CompletedAt sql.NullTime `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// Targets reports whether platform is addressed by the campaign.
func (c *Campaign) Targets(platform string) bool {
	return Addresses(c.TargetPlatforms, platform)
}

// Addresses reports whether a target list includes platform. An empty list
// addresses every platform.
func Addresses(targets []string, platform string) bool {
	if len(targets) == 0 {
		return true
	}
	for _, p := range targets {
		if p == platform {
			return true
		}
	}
	return false
}

// GeoZone is the area a geopos dissemination is armed for. Center is in
// degrees, as received at the boundary.
type GeoZone struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusKm  float64 `json:"radius_km"`
}

// GeoposRun describes a ScheduledGeoposDissemination.
type GeoposRun struct {
	Zone     GeoZone
	Start    time.Time
	End      time.Time
	MaxFires int
}
