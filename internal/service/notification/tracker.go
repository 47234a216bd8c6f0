// internal/service/notification/tracker.go
package notification

import (
	"context"
	"fmt"

	"engage-service/internal/domain/notification"
	xerrors "engage-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// Store persists notifications. AdvanceState must apply the change only if
// it is a forward move for the stored state, in one atomic step, and report
// whether it did. Unknown ids yield xerrors.ErrNotFound.
type Store interface {
	Create(ctx context.Context, n *notification.Notification) error
	AdvanceState(ctx context.Context, change notification.StateChange) (bool, error)
}

// Observer is told about every applied transition.
type Observer interface {
	DeliveryStateChanged(change notification.StateChange)
}

// Tracker owns the delivery state machine of every notification.
type Tracker struct {
	store    Store
	observer Observer
	logger   *zap.Logger
}

func NewTracker(store Store, observer Observer, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, observer: observer, logger: logger}
}

// Create persists n in the CREATED state.
func (t *Tracker) Create(ctx context.Context, n *notification.Notification) error {
	n.State = notification.StateCreated
	if err := t.store.Create(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	t.publish(notification.StateChange{ID: n.ID, To: n.State})
	return nil
}

// UpdateState applies change when it moves the notification forward.
// Stale, repeated and backward changes are no-ops. Unknown ids are logged
// and dropped.
func (t *Tracker) UpdateState(ctx context.Context, change notification.StateChange) (bool, error) {
	if !change.To.Valid() {
		return false, fmt.Errorf("unknown state %q: %w", change.To, xerrors.ErrInvalidInput)
	}

	applied, err := t.store.AdvanceState(ctx, change)
	if xerrors.Is(err, xerrors.ErrNotFound) {
		t.logger.Warn("state change for unknown notification dropped",
			zap.String("notification_id", change.ID),
			zap.String("state", string(change.To)),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update notification state: %w", err)
	}

	if applied {
		t.publish(change)
	} else {
		t.logger.Debug("state change ignored",
			zap.String("notification_id", change.ID),
			zap.String("state", string(change.To)),
		)
	}
	return applied, nil
}

// Acknowledge records a state reported by the client application.
func (t *Tracker) Acknowledge(ctx context.Context, id string, state notification.State) error {
	if !state.IsClientState() {
		return fmt.Errorf("%q: %w", state, xerrors.ErrInvalidCallbackState)
	}
	_, err := t.UpdateState(ctx, notification.StateChange{ID: id, To: state})
	return err
}

func (t *Tracker) publish(change notification.StateChange) {
	if t.observer == nil {
		return
	}
	// audit payloads stay out of the live feed
	change.Request, change.Response = "", ""
	t.observer.DeliveryStateChanged(change)
}
