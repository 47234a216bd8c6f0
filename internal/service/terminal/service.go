// internal/service/terminal/service.go
package terminal

import (
	"context"
	"fmt"
	"strings"

	"engage-service/internal/domain/terminal"
	xerrors "engage-service/internal/pkg/errors"

	"go.uber.org/zap"
)

type Store interface {
	// Upsert creates the terminal on first contact and refreshes its
	// platform and city otherwise.
	Upsert(ctx context.Context, id terminal.Identity) (*terminal.Terminal, error)
	UpdatePushToken(ctx context.Context, terminalID int64, token string) error
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Touch resolves the terminal behind a device request, creating it on first
// contact.
func (s *Service) Touch(ctx context.Context, id terminal.Identity) (*terminal.Terminal, error) {
	id.HardwareID = strings.TrimSpace(id.HardwareID)
	id.AppBundle = strings.TrimSpace(id.AppBundle)
	if id.HardwareID == "" || id.AppBundle == "" {
		return nil, fmt.Errorf("hardware id and app bundle are required: %w", xerrors.ErrInvalidInput)
	}

	t, err := s.store.Upsert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert terminal: %w", err)
	}
	return t, nil
}

func (s *Service) RegisterPushToken(ctx context.Context, terminalID int64, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("empty push token: %w", xerrors.ErrInvalidInput)
	}
	if err := s.store.UpdatePushToken(ctx, terminalID, token); err != nil {
		return fmt.Errorf("failed to register push token: %w", err)
	}

	s.logger.Info("push token registered", zap.Int64("terminal_id", terminalID))
	return nil
}
