package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type BreakerConfig struct {
	// Window is the number of most recent calls the failure ratio is taken over.
	Window int
	// MinSamples calls must be recorded before the breaker may trip.
	MinSamples int
	// FailureRatio in (0,1] at which the breaker opens.
	FailureRatio float64
	// Cooldown before a single probe call is let through.
	Cooldown time.Duration
	// Fallback answers calls while open. Nil means a "circuit open" error.
	Fallback func(ctx context.Context, token string, body []byte) (*Result, error)
}

// Breaker wraps a Gateway and short-circuits it while the provider keeps
// failing.
type Breaker struct {
	next   Gateway
	cfg    BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	outcomes []bool // ring buffer, true = failure
	pos      int
	filled   int
	openedAt time.Time
	probing  bool
}

func NewBreaker(next Gateway, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	if cfg.MinSamples <= 0 || cfg.MinSamples > cfg.Window {
		cfg.MinSamples = cfg.Window / 2
		if cfg.MinSamples == 0 {
			cfg.MinSamples = 1
		}
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		next:     next,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		outcomes: make([]bool, cfg.Window),
	}
}

func (b *Breaker) Name() string { return b.next.Name() }

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Send(ctx context.Context, token string, body []byte) (*Result, error) {
	if !b.admit() {
		if b.cfg.Fallback != nil {
			return b.cfg.Fallback(ctx, token, body)
		}
		return nil, NewError(b.next.Name(), 0, "circuit open")
	}

	res, err := b.next.Send(ctx, token, body)
	b.record(err != nil)
	return res, err
}

// admit decides whether a call may reach the provider.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	case BreakerHalfOpen:
		// one probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probing = false
		if failed {
			b.trip()
			return
		}
		b.state = BreakerClosed
		b.reset()
		b.logger.Info("push gateway circuit closed", zap.String("provider", b.next.Name()))
		return
	}

	b.outcomes[b.pos] = failed
	b.pos = (b.pos + 1) % len(b.outcomes)
	if b.filled < len(b.outcomes) {
		b.filled++
	}

	if b.state == BreakerClosed && b.filled >= b.cfg.MinSamples {
		failures := 0
		for i := 0; i < b.filled; i++ {
			if b.outcomes[i] {
				failures++
			}
		}
		if float64(failures)/float64(b.filled) >= b.cfg.FailureRatio {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.reset()
	b.logger.Warn("push gateway circuit opened",
		zap.String("provider", b.next.Name()),
		zap.Duration("cooldown", b.cfg.Cooldown),
	)
}

func (b *Breaker) reset() {
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.pos = 0
	b.filled = 0
}
