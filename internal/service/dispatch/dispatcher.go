// internal/service/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"engage-service/internal/domain/notification"
	"engage-service/internal/domain/terminal"
	xerrors "engage-service/internal/pkg/errors"
	"engage-service/internal/push/gateway"
	"engage-service/internal/push/payload"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Context is the campaign content a notification is rendered from.
type Context struct {
	CampaignID int64 // 0 for notifications outside a campaign
	Subject    string
	Body       string
	CustomKey  string
	CustomData string
	Silent     bool
}

// Route is the builder and gateway serving one platform.
type Route struct {
	Builder payload.Builder
	Gateway gateway.Gateway
}

// QuotaChecker decides whether a terminal may receive one more notification.
type QuotaChecker interface {
	Allow(ctx context.Context, terminalID int64) (bool, error)
}

// Recorder persists notifications and their state changes.
type Recorder interface {
	Create(ctx context.Context, n *notification.Notification) error
	UpdateState(ctx context.Context, change notification.StateChange) (bool, error)
}

type Config struct {
	Workers        int
	GatewayTimeout time.Duration
}

// Report counts the per-terminal outcomes of a batch.
type Report struct {
	Sent           int `json:"sent"`
	Failed         int `json:"failed"`
	SkippedNoToken int `json:"skipped_no_token"`
	SkippedQuota   int `json:"skipped_quota"`
}

type Dispatcher struct {
	routes   map[terminal.Platform]Route
	quota    QuotaChecker
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
	newID    func() string
}

func NewDispatcher(routes map[terminal.Platform]Route, quota QuotaChecker, recorder Recorder, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	return &Dispatcher{
		routes:   routes,
		quota:    quota,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		newID:    func() string { return ulid.Make().String() },
	}
}

// Dispatch sends one notification to t.
//
// A terminal without a push token and a terminal over its quota are skipped
// with ErrNoPushToken and ErrQuotaExceeded; no record is created. Payload and
// gateway failures are not errors: they end in a FAILED record which is
// returned. Any other error is a configuration or storage failure.
func (d *Dispatcher) Dispatch(ctx context.Context, t *terminal.Terminal, c Context) (*notification.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.HasPushToken() {
		return nil, fmt.Errorf("terminal %d: %w", t.ID, xerrors.ErrNoPushToken)
	}

	route, ok := d.routes[t.Platform]
	if !ok || route.Builder == nil || route.Gateway == nil {
		return nil, fmt.Errorf("platform %q: %w", t.Platform, xerrors.ErrUnknownPlatform)
	}

	allowed, err := d.quota.Allow(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		d.logger.Info("notification skipped, quota exceeded",
			zap.Int64("terminal_id", t.ID),
			zap.Int64("campaign_id", c.CampaignID),
		)
		return nil, fmt.Errorf("terminal %d: %w", t.ID, xerrors.ErrQuotaExceeded)
	}

	n := &notification.Notification{
		ID:         d.newID(),
		TerminalID: t.ID,
		Platform:   t.Platform,
		PushToken:  t.PushToken.String,
		Subject:    c.Subject,
		Body:       c.Body,
		CustomKey:  c.CustomKey,
		CustomData: c.CustomData,
	}
	if c.CampaignID > 0 {
		n.CampaignID = sql.NullInt64{Int64: c.CampaignID, Valid: true}
	}

	body, buildErr := route.Builder.Build(n.PushToken, payload.Message{
		ID:         n.ID,
		Subject:    c.Subject,
		Body:       c.Body,
		CustomKey:  c.CustomKey,
		CustomData: c.CustomData,
		Silent:     c.Silent,
	})

	if err := d.recorder.Create(ctx, n); err != nil {
		return nil, err
	}

	if buildErr != nil {
		d.logger.Warn("payload encoding failed",
			zap.String("notification_id", n.ID),
			zap.Int64("terminal_id", t.ID),
			zap.Error(buildErr),
		)
		return d.finish(ctx, n, notification.StateChange{ID: n.ID, To: notification.StateFailed, Reason: buildErr.Error()})
	}

	out := d.send(ctx, route.Gateway, n.PushToken, body)
	if out.Err != nil {
		reason := gateway.Redact(out.Err.Error(), n.PushToken)
		d.logger.Warn("push gateway failed",
			zap.String("notification_id", n.ID),
			zap.String("gateway", route.Gateway.Name()),
			zap.String("reason", reason),
		)
		return d.finish(ctx, n, notification.StateChange{ID: n.ID, To: notification.StateFailed, Reason: reason, Request: string(body)})
	}

	change := notification.StateChange{ID: n.ID, To: notification.StateSent}
	if out.Result != nil {
		change.Request, change.Response = out.Result.Request, out.Result.Response
	}
	return d.finish(ctx, n, change)
}

// send waits for the provider with a bounded timeout. A timeout is a
// gateway failure.
func (d *Dispatcher) send(ctx context.Context, g gateway.Gateway, token string, body []byte) gateway.Outcome {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
	defer cancel()

	select {
	case out := <-gateway.SendAsync(sendCtx, g, token, body):
		return out
	case <-sendCtx.Done():
		return gateway.Outcome{Err: gateway.NewError(g.Name(), 0, fmt.Sprintf("no answer: %v", sendCtx.Err()))}
	}
}

// finish records the outcome. It runs detached from ctx cancellation so an
// aborted batch still leaves in-flight records in a final state. When the
// client reported the notification first, the outcome is not applied and n
// keeps the state it was created with.
func (d *Dispatcher) finish(ctx context.Context, n *notification.Notification, change notification.StateChange) (*notification.Notification, error) {
	applied, err := d.recorder.UpdateState(context.WithoutCancel(ctx), change)
	if err != nil {
		return nil, err
	}
	if !applied {
		d.logger.Debug("dispatch outcome superseded",
			zap.String("notification_id", n.ID),
			zap.String("outcome", string(change.To)),
		)
		return n, nil
	}
	n.State = change.To
	if change.Reason != "" {
		n.StateReason = sql.NullString{String: change.Reason, Valid: true}
	}
	return n, nil
}

// DispatchAll fans Dispatch out over terminals with bounded concurrency.
// Skips and delivery failures are counted; the first configuration or
// storage error cancels the remaining work and is returned.
func (d *Dispatcher) DispatchAll(ctx context.Context, terminals []*terminal.Terminal, c Context) (Report, error) {
	var (
		mu     sync.Mutex
		report Report
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for _, t := range terminals {
		t := t
		g.Go(func() error {
			n, err := d.Dispatch(gctx, t, c)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && n.State == notification.StateFailed:
				report.Failed++
			case err == nil:
				report.Sent++
			case errors.Is(err, xerrors.ErrNoPushToken):
				report.SkippedNoToken++
			case errors.Is(err, xerrors.ErrQuotaExceeded):
				report.SkippedQuota++
			default:
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if xerrors.IsFatal(err) {
			d.logger.Error("dispatch batch aborted by configuration error",
				zap.Int64("campaign_id", c.CampaignID),
				zap.Error(err),
			)
		}
		return report, fmt.Errorf("dispatch batch aborted: %w", err)
	}

	d.logger.Info("dispatch batch finished",
		zap.Int64("campaign_id", c.CampaignID),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped_no_token", report.SkippedNoToken),
		zap.Int("skipped_quota", report.SkippedQuota),
	)
	return report, nil
}
