// internal/repository/postgres/terminal_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"engage-service/internal/domain/terminal"
	xerrors "engage-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const terminalColumns = `
	id, hardware_id, app_bundle, platform, push_token, last_city, properties,
	last_latitude, last_longitude, created_at, updated_at`

type TerminalRepository struct {
	db *pgxpool.Pool
}

func NewTerminalRepository(db *pgxpool.Pool) *TerminalRepository {
	return &TerminalRepository{db: db}
}

func scanTerminal(row pgx.Row) (*terminal.Terminal, error) {
	var t terminal.Terminal
	err := row.Scan(
		&t.ID, &t.HardwareID, &t.AppBundle, &t.Platform, &t.PushToken, &t.LastCity, &t.Properties,
		&t.LastLatitude, &t.LastLongitude, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Upsert creates the terminal on first contact. Later contacts refresh the
// platform and, when one is known, the city.
func (r *TerminalRepository) Upsert(ctx context.Context, id terminal.Identity) (*terminal.Terminal, error) {
	query := `
		INSERT INTO terminals (hardware_id, app_bundle, platform, last_city)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (hardware_id, app_bundle) DO UPDATE SET
			platform   = EXCLUDED.platform,
			last_city  = COALESCE(EXCLUDED.last_city, terminals.last_city),
			updated_at = NOW()
		RETURNING` + terminalColumns

	t, err := scanTerminal(r.db.QueryRow(ctx, query, id.HardwareID, id.AppBundle, string(id.Platform), id.City))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert terminal: %w", err)
	}
	return t, nil
}

func (r *TerminalRepository) FindByID(ctx context.Context, id int64) (*terminal.Terminal, error) {
	query := `SELECT` + terminalColumns + ` FROM terminals WHERE id = $1`

	t, err := scanTerminal(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find terminal: %w", err)
	}
	return t, nil
}

// FindTargets lists the terminals on the given platforms, all terminals when
// platforms is empty.
func (r *TerminalRepository) FindTargets(ctx context.Context, platforms []string) ([]*terminal.Terminal, error) {
	query := `SELECT` + terminalColumns + `
		FROM terminals
		WHERE cardinality($1::text[]) = 0 OR platform = ANY($1::text[])
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, pq.StringArray(platforms))
	if err != nil {
		return nil, fmt.Errorf("failed to list target terminals: %w", err)
	}
	defer rows.Close()

	var out []*terminal.Terminal
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan terminal: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TerminalRepository) UpdatePushToken(ctx context.Context, terminalID int64, token string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE terminals SET push_token = $2, updated_at = NOW() WHERE id = $1`,
		terminalID, token,
	)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *TerminalRepository) UpdateLastPosition(ctx context.Context, terminalID int64, latitude, longitude float64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE terminals SET last_latitude = $2, last_longitude = $3, updated_at = NOW() WHERE id = $1`,
		terminalID, latitude, longitude,
	)
	if err != nil {
		return fmt.Errorf("failed to update terminal position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
