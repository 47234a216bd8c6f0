// internal/service/quota/quota.go
package quota

import (
	"context"
	"fmt"
	"time"
)

// Caps are the ceilings for one scope. A nil field is unbounded, zero blocks
// every send.
type Caps struct {
	PerMinute *int64 `json:"per_minute,omitempty"`
	PerHour   *int64 `json:"per_hour,omitempty"`
	PerDay    *int64 `json:"per_day,omitempty"`
}

// Limits holds the per-terminal and the system-wide caps.
type Limits struct {
	Terminal Caps `json:"terminal"`
	Global   Caps `json:"global"`
}

// LimitsProvider returns the caps currently in force.
type LimitsProvider interface {
	Limits(ctx context.Context) (Limits, error)
}

// StaticLimits serves caps fixed at startup.
type StaticLimits Limits

func (s StaticLimits) Limits(context.Context) (Limits, error) {
	return Limits(s), nil
}

// Window is one rolling counter checked by a Counter.
type Window struct {
	Key  string
	Span time.Duration
	Cap  int64
}

// Counter checks every window and, only when all of them have room, records
// one send in each. Check and record happen as a single atomic step.
type Counter interface {
	Acquire(ctx context.Context, windows []Window) (bool, error)
}

// Enforcer answers whether one more notification may be sent to a terminal.
type Enforcer struct {
	limits  LimitsProvider
	counter Counter
	prefix  string
}

func NewEnforcer(limits LimitsProvider, counter Counter) *Enforcer {
	return &Enforcer{limits: limits, counter: counter, prefix: "{quota}"}
}

func (e *Enforcer) Allow(ctx context.Context, terminalID int64) (bool, error) {
	limits, err := e.limits.Limits(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load quota limits: %w", err)
	}

	windows := make([]Window, 0, 6)
	windows = appendWindows(windows, fmt.Sprintf("%s:terminal:%d", e.prefix, terminalID), limits.Terminal)
	windows = appendWindows(windows, e.prefix+":global", limits.Global)

	if len(windows) == 0 {
		return true, nil
	}
	for _, w := range windows {
		if w.Cap <= 0 {
			return false, nil
		}
	}

	ok, err := e.counter.Acquire(ctx, windows)
	if err != nil {
		return false, fmt.Errorf("failed to acquire quota: %w", err)
	}
	return ok, nil
}

func appendWindows(dst []Window, key string, c Caps) []Window {
	if c.PerMinute != nil {
		dst = append(dst, Window{Key: key + ":minute", Span: time.Minute, Cap: *c.PerMinute})
	}
	if c.PerHour != nil {
		dst = append(dst, Window{Key: key + ":hour", Span: time.Hour, Cap: *c.PerHour})
	}
	if c.PerDay != nil {
		dst = append(dst, Window{Key: key + ":day", Span: 24 * time.Hour, Cap: *c.PerDay})
	}
	return dst
}
