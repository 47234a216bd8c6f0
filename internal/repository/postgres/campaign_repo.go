// internal/repository/postgres/campaign_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engage-service/internal/domain/campaign"
	xerrors "engage-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const campaignColumns = `
	id, name, subject, body, custom_key, custom_data, target_platforms, status,
	distribution_id, scheduled_geopos_dissemination_id,
	fire_at, zone_latitude, zone_longitude, zone_radius_km, window_start, window_end, max_fires, fires_used,
	completed_at, created_at, updated_at`

type CampaignRepository struct {
	db *pgxpool.Pool
}

func NewCampaignRepository(db *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func scanCampaign(row pgx.Row) (*campaign.Campaign, error) {
	var c campaign.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.Body, &c.CustomKey, &c.CustomData, &c.TargetPlatforms, &c.Status,
		&c.DistributionID, &c.ScheduledGeoposDisseminationID,
		&c.FireAt, &c.ZoneLatitude, &c.ZoneLongitude, &c.ZoneRadiusKm, &c.WindowStart, &c.WindowEnd, &c.MaxFires, &c.FiresUsed,
		&c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) findOne(ctx context.Context, where string, arg interface{}) (*campaign.Campaign, error) {
	query := `SELECT` + campaignColumns + ` FROM campaigns WHERE ` + where + ` ORDER BY id LIMIT 1`

	c, err := scanCampaign(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepository) FindByID(ctx context.Context, id int64) (*campaign.Campaign, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *CampaignRepository) FindFirstByDistributionID(ctx context.Context, disseminationID string) (*campaign.Campaign, error) {
	return r.findOne(ctx, "distribution_id = $1", disseminationID)
}

func (r *CampaignRepository) FindFirstByScheduledGeoposDisseminationID(ctx context.Context, disseminationID string) (*campaign.Campaign, error) {
	return r.findOne(ctx, "scheduled_geopos_dissemination_id = $1", disseminationID)
}

// AttachDistribution makes a distribution the campaign's active run.
func (r *CampaignRepository) AttachDistribution(ctx context.Context, campaignID int64, disseminationID string, fireAt time.Time) error {
	query := `
		UPDATE campaigns SET
			status = $2,
			distribution_id = $3,
			fire_at = $4,
			scheduled_geopos_dissemination_id = NULL,
			zone_latitude = NULL, zone_longitude = NULL, zone_radius_km = NULL,
			window_start = NULL, window_end = NULL, max_fires = NULL, fires_used = 0,
			updated_at = NOW()
		WHERE id = $1 AND completed_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, campaignID, string(campaign.CampaignStatusScheduled), disseminationID, fireAt)
	if err != nil {
		return fmt.Errorf("failed to attach distribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// AttachGeoposDissemination makes a geopos dissemination the campaign's
// active run and stores its parameters for restore.
func (r *CampaignRepository) AttachGeoposDissemination(ctx context.Context, campaignID int64, disseminationID string, run campaign.GeoposRun) error {
	query := `
		UPDATE campaigns SET
			status = $2,
			scheduled_geopos_dissemination_id = $3,
			zone_latitude = $4, zone_longitude = $5, zone_radius_km = $6,
			window_start = $7, window_end = $8, max_fires = $9, fires_used = 0,
			distribution_id = NULL,
			fire_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND completed_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query,
		campaignID, string(campaign.CampaignStatusScheduled), disseminationID,
		run.Zone.Latitude, run.Zone.Longitude, run.Zone.RadiusKm,
		run.Start, run.End, run.MaxFires,
	)
	if err != nil {
		return fmt.Errorf("failed to attach geopos dissemination: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *CampaignRepository) MarkRunning(ctx context.Context, campaignID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1 AND completed_at IS NULL`,
		campaignID, string(campaign.CampaignStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to mark campaign running: %w", err)
	}
	return nil
}

// RecordGeoposFire spends one fire of the campaign's geopos run.
func (r *CampaignRepository) RecordGeoposFire(ctx context.Context, campaignID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE campaigns SET fires_used = fires_used + 1, updated_at = NOW()
		WHERE id = $1 AND completed_at IS NULL`,
		campaignID,
	)
	if err != nil {
		return fmt.Errorf("failed to record geopos fire: %w", err)
	}
	return nil
}

// MarkCompleted closes the campaign. Only the first call takes effect.
func (r *CampaignRepository) MarkCompleted(ctx context.Context, campaignID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE campaigns SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND completed_at IS NULL`,
		campaignID, string(campaign.CampaignStatusCompleted),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign completed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingRuns returns the campaigns whose run was scheduled but not
// completed.
func (r *CampaignRepository) ListPendingRuns(ctx context.Context) ([]*campaign.Campaign, error) {
	query := `SELECT` + campaignColumns + `
		FROM campaigns
		WHERE status IN ($1, $2)
		  AND completed_at IS NULL
		  AND (distribution_id IS NOT NULL OR scheduled_geopos_dissemination_id IS NOT NULL)
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, string(campaign.CampaignStatusScheduled), string(campaign.CampaignStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs: %w", err)
	}
	defer rows.Close()

	var out []*campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
