package notification

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"engage-service/internal/domain/notification"
	xerrors "engage-service/internal/pkg/errors"
)

// MemoryStore is an in-process Store. It backs single-node runs without a
// database and the tests of the packages built on the tracker.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*notification.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*notification.Notification)}
}

func (s *MemoryStore) Create(_ context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, xerrors.ErrConflict)
	}
	now := time.Now()
	n.CreatedAt, n.UpdatedAt = now, now
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *MemoryStore) AdvanceState(_ context.Context, change notification.StateChange) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[change.ID]
	if !ok {
		return false, xerrors.ErrNotFound
	}
	if !notification.CanTransition(n.State, change.To) {
		return false, nil
	}

	n.State = change.To
	if change.Reason != "" {
		n.StateReason = sql.NullString{String: change.Reason, Valid: true}
	}
	if change.Request != "" {
		n.GatewayRequest = sql.NullString{String: change.Request, Valid: true}
	}
	if change.Response != "" {
		n.GatewayResponse = sql.NullString{String: change.Response, Valid: true}
	}
	n.UpdatedAt = time.Now()
	return true, nil
}

// Get returns a copy of the stored notification.
func (s *MemoryStore) Get(id string) (notification.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return notification.Notification{}, false
	}
	return *n, true
}

// All returns copies of every stored notification.
func (s *MemoryStore) All() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Notification, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, *n)
	}
	return out
}
