// internal/domain/notification/entity.go
package notification

import (
	"database/sql"
	"time"

	"engage-service/internal/domain/terminal"
)

type State string

const (
	StateCreated              State = "CREATED"
	StateSent                 State = "SENT"
	StateReceivedByClient     State = "RECEIVED_BY_CLIENT"
	StateAcknowledgedByClient State = "ACKNOWLEDGED_BY_CLIENT"
	StateFailed               State = "FAILED"
)

// Rank orders the delivery states. FAILED is off the ladder and returns -1.
func (s State) Rank() int {
	switch s {
	case StateCreated:
		return 0
	case StateSent:
		return 1
	case StateReceivedByClient:
		return 2
	case StateAcknowledgedByClient:
		return 3
	default:
		return -1
	}
}

func (s State) Valid() bool {
	return s == StateFailed || s.Rank() >= 0
}

// IsClientState reports whether s may be reported by a client callback.
func (s State) IsClientState() bool {
	return s == StateReceivedByClient || s == StateAcknowledgedByClient
}

// CanTransition reports whether moving from -> to is a forward move.
// FAILED is only reachable from CREATED and is absorbing. Anything else must
// climb the ladder; equal or lower targets are no-ops.
func CanTransition(from, to State) bool {
	if from == StateFailed || !to.Valid() {
		return false
	}
	if to == StateFailed {
		return from == StateCreated
	}
	return to.Rank() > from.Rank()
}

type Notification struct {
	ID         string            `json:"id" db:"id"`
	CampaignID sql.NullInt64     `json:"campaign_id,omitempty" db:"campaign_id"`
	TerminalID int64             `json:"terminal_id" db:"terminal_id"`
	Platform   terminal.Platform `json:"platform" db:"platform"`
	PushToken  string            `json:"-" db:"push_token"`

	Subject    string `json:"subject" db:"subject"`
	Body       string `json:"body" db:"body"`
	CustomKey  string `json:"custom_key,omitempty" db:"custom_key"`
	CustomData string `json:"custom_data,omitempty" db:"custom_data"`

	State       State          `json:"state" db:"state"`
	StateReason sql.NullString `json:"state_reason,omitempty" db:"state_reason"`

	// Raw gateway exchange, kept for audit
	GatewayRequest  sql.NullString `json:"-" db:"gateway_request"`
	GatewayResponse sql.NullString `json:"-" db:"gateway_response"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StateChange is one requested transition for a tracked notification.
type StateChange struct {
	ID       string
	To       State
	Reason   string
	Request  string
	Response string
}

// DTOs

type ClientStateRequest struct {
	State State `json:"state" binding:"required"`
}
