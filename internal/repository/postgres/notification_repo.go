// internal/repository/postgres/notification_repo.go
package postgres

import (
	"context"
	"fmt"

	"engage-service/internal/domain/notification"
	xerrors "engage-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts the notification; it must be durable before any gateway
// call is made for it.
func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	query := `
		INSERT INTO notifications (
			id, campaign_id, terminal_id, platform, push_token,
			subject, body, custom_key, custom_data, state, state_rank
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		n.ID, n.CampaignID, n.TerminalID, string(n.Platform), n.PushToken,
		n.Subject, n.Body, n.CustomKey, n.CustomData, string(n.State), n.State.Rank(),
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// AdvanceState applies the change only when it moves the stored state
// forward. The guard lives in the UPDATE so concurrent callers cannot
// regress the state.
func (r *NotificationRepository) AdvanceState(ctx context.Context, change notification.StateChange) (bool, error) {
	query := `
		UPDATE notifications SET
			state            = $2::text,
			state_rank       = $3,
			state_reason     = COALESCE(NULLIF($4, ''), state_reason),
			gateway_request  = COALESCE(NULLIF($5, ''), gateway_request),
			gateway_response = COALESCE(NULLIF($6, ''), gateway_response),
			updated_at       = NOW()
		WHERE id = $1
		  AND state <> 'FAILED'
		  AND (
			($2::text = 'FAILED' AND state = 'CREATED')
			OR ($2::text <> 'FAILED' AND state_rank < $3)
		  )
	`

	tag, err := r.db.Exec(ctx, query,
		change.ID, string(change.To), change.To.Rank(),
		change.Reason, change.Request, change.Response,
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance notification state: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, change.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	if !exists {
		return false, xerrors.ErrNotFound
	}
	return false, nil
}
