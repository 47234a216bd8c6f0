package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"engage-service/internal/domain/notification"
	"engage-service/internal/domain/terminal"
	xerrors "engage-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Runs against a throwaway database named by DATABASE_TEST_URL.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_TEST_URL")
	if url == "" {
		t.Skip("DATABASE_TEST_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := NewDB(pool).EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return pool
}

func TestAdvanceStateIsMonotonic(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	terminals := NewTerminalRepository(pool)
	tm, err := terminals.Upsert(ctx, terminal.Identity{
		HardwareID: "hw-" + ulid.Make().String(),
		AppBundle:  "com.example",
		Platform:   terminal.PlatformAndroid,
	})
	if err != nil {
		t.Fatalf("upsert terminal: %v", err)
	}

	repo := NewNotificationRepository(pool)
	n := &notification.Notification{
		ID:         ulid.Make().String(),
		TerminalID: tm.ID,
		Platform:   tm.Platform,
		PushToken:  "tok",
		Subject:    "s",
		Body:       "b",
		State:      notification.StateCreated,
	}
	if err := repo.Create(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}

	steps := []struct {
		to   notification.State
		want bool
	}{
		{notification.StateAcknowledgedByClient, true},
		{notification.StateReceivedByClient, false},
		{notification.StateSent, false},
		{notification.StateFailed, false},
	}
	for _, s := range steps {
		applied, err := repo.AdvanceState(ctx, notification.StateChange{ID: n.ID, To: s.to})
		if err != nil {
			t.Fatalf("advance to %s: %v", s.to, err)
		}
		if applied != s.want {
			t.Fatalf("advance to %s: applied=%v, want %v", s.to, applied, s.want)
		}
	}

	_, err = repo.AdvanceState(ctx, notification.StateChange{ID: "missing", To: notification.StateSent})
	if !xerrors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
