// internal/service/dissemination/service.go
package dissemination

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"engage-service/internal/domain/campaign"
	"engage-service/internal/domain/notification"
	"engage-service/internal/domain/terminal"
	xerrors "engage-service/internal/pkg/errors"
	"engage-service/internal/pkg/geo"
	"engage-service/internal/scheduler"
	"engage-service/internal/service/dispatch"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CampaignStore is the campaign persistence the runs need. Lookups return
// xerrors.ErrNotFound on a miss.
type CampaignStore interface {
	FindByID(ctx context.Context, id int64) (*campaign.Campaign, error)
	FindFirstByDistributionID(ctx context.Context, disseminationID string) (*campaign.Campaign, error)
	FindFirstByScheduledGeoposDisseminationID(ctx context.Context, disseminationID string) (*campaign.Campaign, error)
	AttachDistribution(ctx context.Context, campaignID int64, disseminationID string, fireAt time.Time) error
	AttachGeoposDissemination(ctx context.Context, campaignID int64, disseminationID string, run campaign.GeoposRun) error
	MarkRunning(ctx context.Context, campaignID int64) error
	// RecordGeoposFire spends one fire of the active geopos run.
	RecordGeoposFire(ctx context.Context, campaignID int64) error
	// MarkCompleted reports false when the campaign was already complete.
	MarkCompleted(ctx context.Context, campaignID int64) (bool, error)
	ListPendingRuns(ctx context.Context) ([]*campaign.Campaign, error)
}

type TerminalStore interface {
	FindByID(ctx context.Context, id int64) (*terminal.Terminal, error)
	FindTargets(ctx context.Context, platforms []string) ([]*terminal.Terminal, error)
	UpdateLastPosition(ctx context.Context, terminalID int64, latitude, longitude float64) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, t *terminal.Terminal, c dispatch.Context) (*notification.Notification, error)
	DispatchAll(ctx context.Context, terminals []*terminal.Terminal, c dispatch.Context) (dispatch.Report, error)
}

// CompletionObserver is told when a run closes its campaign.
type CompletionObserver interface {
	CampaignCompleted(campaignID int64, disseminationID, group string)
}

// GeoposEvent is one position report of a terminal, in degrees.
type GeoposEvent struct {
	TerminalID int64     `json:"terminal_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	At         time.Time `json:"at"`
}

// zone is an armed geopos dissemination.
type zone struct {
	campaignID int64
	platforms  []string
	center     geo.Point // radians
	radiusKm   float64
	seen       map[int64]struct{} // terminals already fired for
}

type Service struct {
	campaigns  CampaignStore
	terminals  TerminalStore
	dispatcher Dispatcher
	scheduler  *scheduler.Scheduler
	observer   CompletionObserver
	logger     *zap.Logger

	mu    sync.Mutex
	zones map[string]*zone
}

func NewService(
	campaigns CampaignStore,
	terminals TerminalStore,
	dispatcher Dispatcher,
	sched *scheduler.Scheduler,
	observer CompletionObserver,
	logger *zap.Logger,
) *Service {
	return &Service{
		campaigns:  campaigns,
		terminals:  terminals,
		dispatcher: dispatcher,
		scheduler:  sched,
		observer:   observer,
		logger:     logger,
		zones:      make(map[string]*zone),
	}
}

// ========== Scheduling ==========

// ScheduleDistribution broadcasts the campaign to every targeted terminal
// at fireAt.
func (s *Service) ScheduleDistribution(ctx context.Context, campaignID int64, fireAt time.Time) (string, error) {
	if _, err := s.checkSchedulable(ctx, campaignID); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := s.campaigns.AttachDistribution(ctx, campaignID, id, fireAt); err != nil {
		return "", fmt.Errorf("failed to attach distribution: %w", err)
	}
	if err := s.scheduleDistribution(id, fireAt); err != nil {
		return "", err
	}

	s.logger.Info("distribution scheduled",
		zap.Int64("campaign_id", campaignID),
		zap.String("dissemination_id", id),
		zap.Time("fire_at", fireAt),
	)
	return id, nil
}

// ScheduleGeoposDissemination arms the campaign for terminals reporting a
// position inside run.Zone during the run window.
func (s *Service) ScheduleGeoposDissemination(ctx context.Context, campaignID int64, run campaign.GeoposRun) (string, error) {
	if err := validateRun(run); err != nil {
		return "", err
	}
	c, err := s.checkSchedulable(ctx, campaignID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := s.campaigns.AttachGeoposDissemination(ctx, campaignID, id, run); err != nil {
		return "", fmt.Errorf("failed to attach geopos dissemination: %w", err)
	}
	if err := s.scheduleGeopos(c, id, run, 0); err != nil {
		return "", err
	}

	s.logger.Info("geopos dissemination scheduled",
		zap.Int64("campaign_id", campaignID),
		zap.String("dissemination_id", id),
		zap.Float64("radius_km", run.Zone.RadiusKm),
		zap.Time("end", run.End),
		zap.Int("max_fires", run.MaxFires),
	)
	return id, nil
}

func validateRun(run campaign.GeoposRun) error {
	z := run.Zone
	switch {
	case z.Latitude < -90 || z.Latitude > 90 || z.Longitude < -180 || z.Longitude > 180:
		return fmt.Errorf("zone center out of range: %w", xerrors.ErrInvalidInput)
	case z.RadiusKm <= 0:
		return fmt.Errorf("zone radius must be positive: %w", xerrors.ErrInvalidInput)
	case !run.End.After(run.Start):
		return fmt.Errorf("run must end after it starts: %w", xerrors.ErrInvalidInput)
	case run.MaxFires < 0:
		return fmt.Errorf("max fires must not be negative: %w", xerrors.ErrInvalidInput)
	}
	return nil
}

func (s *Service) checkSchedulable(ctx context.Context, campaignID int64) (*campaign.Campaign, error) {
	c, err := s.campaigns.FindByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case campaign.CampaignStatusScheduled, campaign.CampaignStatusRunning:
		return nil, fmt.Errorf("campaign %d already has an active run: %w", campaignID, xerrors.ErrConflict)
	case campaign.CampaignStatusCompleted, campaign.CampaignStatusCancelled:
		return nil, fmt.Errorf("campaign %d is %s: %w", campaignID, c.Status, xerrors.ErrConflict)
	}
	return c, nil
}

func (s *Service) scheduleDistribution(id string, fireAt time.Time) error {
	key := scheduler.JobKey{Group: string(campaign.JobGroupDistribution), ID: id}
	data := scheduler.JobData{campaign.JobDataID: id}
	if err := s.scheduler.Schedule(key, data, scheduler.Once(fireAt), s.runDistribution); err != nil {
		return fmt.Errorf("failed to schedule distribution: %w", err)
	}
	return nil
}

// scheduleGeopos arms run for c with used fires already spent.
func (s *Service) scheduleGeopos(c *campaign.Campaign, id string, run campaign.GeoposRun, used int) error {
	s.mu.Lock()
	s.zones[id] = &zone{
		campaignID: c.ID,
		platforms:  c.TargetPlatforms,
		center:     geo.FromDegrees(run.Zone.Latitude, run.Zone.Longitude),
		radiusKm:   run.Zone.RadiusKm,
		seen:       make(map[int64]struct{}),
	}
	s.mu.Unlock()

	key := scheduler.JobKey{Group: string(campaign.JobGroupScheduledGeoposDissemination), ID: id}
	data := scheduler.JobData{campaign.JobDataID: id}
	if err := s.scheduler.Schedule(key, data, scheduler.Armed(run.Start, run.End, run.MaxFires).Resume(used), s.runGeopos); err != nil {
		s.unregisterZone(id)
		return fmt.Errorf("failed to schedule geopos dissemination: %w", err)
	}
	return nil
}

func (s *Service) unregisterZone(id string) {
	s.mu.Lock()
	delete(s.zones, id)
	s.mu.Unlock()
}

// ========== Jobs ==========

func (s *Service) runDistribution(ctx context.Context, key scheduler.JobKey, data scheduler.JobData) error {
	c, err := s.campaigns.FindFirstByDistributionID(ctx, data[campaign.JobDataID])
	if err != nil {
		return fmt.Errorf("failed to resolve distribution %s: %w", key.ID, err)
	}
	if err := s.campaigns.MarkRunning(ctx, c.ID); err != nil {
		return fmt.Errorf("failed to mark campaign running: %w", err)
	}

	targets, err := s.terminals.FindTargets(ctx, c.TargetPlatforms)
	if err != nil {
		return fmt.Errorf("failed to resolve target terminals: %w", err)
	}

	report, err := s.dispatcher.DispatchAll(ctx, targets, contextFor(c))
	if err != nil {
		return err
	}

	s.logger.Info("distribution executed",
		zap.Int64("campaign_id", c.ID),
		zap.String("dissemination_id", key.ID),
		zap.Int("targets", len(targets)),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)
	return nil
}

func (s *Service) runGeopos(ctx context.Context, key scheduler.JobKey, data scheduler.JobData) error {
	terminalID, err := strconv.ParseInt(data[campaign.JobDataTerminalID], 10, 64)
	if err != nil {
		return fmt.Errorf("geopos fire without terminal id: %w", xerrors.ErrInvalidInput)
	}

	c, err := s.campaigns.FindFirstByScheduledGeoposDisseminationID(ctx, data[campaign.JobDataID])
	if err != nil {
		return fmt.Errorf("failed to resolve geopos dissemination %s: %w", key.ID, err)
	}
	if c.Status == campaign.CampaignStatusScheduled {
		if err := s.campaigns.MarkRunning(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to mark campaign running: %w", err)
		}
	}

	t, err := s.terminals.FindByID(ctx, terminalID)
	if err != nil {
		return fmt.Errorf("failed to resolve terminal %d: %w", terminalID, err)
	}
	if !c.Targets(string(t.Platform)) {
		s.forget(key.ID, terminalID)
		return fmt.Errorf("platform %s not targeted: %w", t.Platform, scheduler.ErrSkipped)
	}

	n, err := s.dispatcher.Dispatch(ctx, t, contextFor(c))
	switch {
	case xerrors.Is(err, xerrors.ErrNoPushToken), xerrors.Is(err, xerrors.ErrQuotaExceeded):
		// the terminal may qualify on a later report
		s.forget(key.ID, terminalID)
		s.logger.Info("geopos notification skipped",
			zap.Int64("campaign_id", c.ID),
			zap.Int64("terminal_id", terminalID),
			zap.Error(err),
		)
		return fmt.Errorf("%v: %w", err, scheduler.ErrSkipped)
	case err != nil:
		return err
	}

	if err := s.campaigns.RecordGeoposFire(ctx, c.ID); err != nil {
		s.logger.Warn("failed to record geopos fire",
			zap.Int64("campaign_id", c.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("geopos notification dispatched",
		zap.Int64("campaign_id", c.ID),
		zap.Int64("terminal_id", terminalID),
		zap.String("notification_id", n.ID),
		zap.String("state", string(n.State)),
	)
	return nil
}

func contextFor(c *campaign.Campaign) dispatch.Context {
	return dispatch.Context{
		CampaignID: c.ID,
		Subject:    c.Subject,
		Body:       c.Body,
		CustomKey:  c.CustomKey.String,
		CustomData: c.CustomData.String,
	}
}

// ========== Geoposition events ==========

// HandleGeoposition records the terminal's position and fires every armed
// zone containing it, at most once per terminal and run. Zones whose
// campaign does not target the terminal, or a terminal without a push
// token, are not fired. It returns the number of runs fired.
func (s *Service) HandleGeoposition(ctx context.Context, ev GeoposEvent) (int, error) {
	if ev.Latitude < -90 || ev.Latitude > 90 || ev.Longitude < -180 || ev.Longitude > 180 {
		return 0, fmt.Errorf("position out of range: %w", xerrors.ErrInvalidInput)
	}

	if err := s.terminals.UpdateLastPosition(ctx, ev.TerminalID, ev.Latitude, ev.Longitude); err != nil {
		s.logger.Warn("failed to record terminal position",
			zap.Int64("terminal_id", ev.TerminalID),
			zap.Error(err),
		)
	}

	p := geo.FromDegrees(ev.Latitude, ev.Longitude)

	if !s.anyZoneContains(ev.TerminalID, p) {
		return 0, nil
	}

	t, err := s.terminals.FindByID(ctx, ev.TerminalID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve terminal %d: %w", ev.TerminalID, err)
	}
	if !t.HasPushToken() {
		s.logger.Debug("geoposition of terminal without push token",
			zap.Int64("terminal_id", ev.TerminalID),
		)
		return 0, nil
	}

	var matched []string
	s.mu.Lock()
	for id, z := range s.zones {
		if _, done := z.seen[ev.TerminalID]; done {
			continue
		}
		if !campaign.Addresses(z.platforms, string(t.Platform)) {
			continue
		}
		if geo.Within(z.center, p, z.radiusKm) {
			z.seen[ev.TerminalID] = struct{}{}
			matched = append(matched, id)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, id := range matched {
		key := scheduler.JobKey{Group: string(campaign.JobGroupScheduledGeoposDissemination), ID: id}
		extra := scheduler.JobData{campaign.JobDataTerminalID: strconv.FormatInt(ev.TerminalID, 10)}
		if err := s.scheduler.Fire(key, extra); err != nil {
			s.forget(id, ev.TerminalID)
			s.logger.Debug("geopos run not fired",
				zap.String("dissemination_id", id),
				zap.Int64("terminal_id", ev.TerminalID),
				zap.Error(err),
			)
			continue
		}
		fired++
	}
	return fired, nil
}

func (s *Service) anyZoneContains(terminalID int64, p geo.Point) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, z := range s.zones {
		if _, done := z.seen[terminalID]; done {
			continue
		}
		if geo.Within(z.center, p, z.radiusKm) {
			return true
		}
	}
	return false
}

func (s *Service) forget(id string, terminalID int64) {
	s.mu.Lock()
	if z, ok := s.zones[id]; ok {
		delete(z.seen, terminalID)
	}
	s.mu.Unlock()
}

// ========== Completion ==========

// ListenCompletions closes out campaigns as their runs finish. It returns
// when ctx is done.
func (s *Service) ListenCompletions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.scheduler.Completions():
			s.handleCompletion(ctx, ev)
		}
	}
}

func (s *Service) handleCompletion(ctx context.Context, ev scheduler.TriggerEvent) {
	id := ev.Data[campaign.JobDataID]

	var (
		c   *campaign.Campaign
		err error
	)
	switch campaign.JobGroup(ev.Key.Group) {
	case campaign.JobGroupDistribution:
		c, err = s.campaigns.FindFirstByDistributionID(ctx, id)
	case campaign.JobGroupScheduledGeoposDissemination:
		s.unregisterZone(id)
		c, err = s.campaigns.FindFirstByScheduledGeoposDisseminationID(ctx, id)
	default:
		s.logger.Warn("completion for unknown job group", zap.String("group", ev.Key.Group))
		return
	}

	if xerrors.Is(err, xerrors.ErrNotFound) {
		s.logger.Warn("run completed without a campaign",
			zap.String("group", ev.Key.Group),
			zap.String("dissemination_id", id),
			zap.Error(xerrors.ErrSchedulerLookupMiss),
		)
		return
	}
	if err != nil {
		s.logger.Error("failed to resolve completed run",
			zap.String("dissemination_id", id),
			zap.Error(err),
		)
		return
	}

	completed, err := s.campaigns.MarkCompleted(ctx, c.ID)
	if err != nil {
		s.logger.Error("failed to mark campaign completed",
			zap.Int64("campaign_id", c.ID),
			zap.Error(err),
		)
		return
	}
	if completed {
		s.logger.Info("campaign completed",
			zap.Int64("campaign_id", c.ID),
			zap.String("dissemination_id", id),
			zap.String("group", ev.Key.Group),
		)
		if s.observer != nil {
			s.observer.CampaignCompleted(c.ID, id, ev.Key.Group)
		}
	}
}

// ========== Restore ==========

// Restore re-schedules the runs of campaigns left scheduled or running by a
// previous process. Runs whose time has passed fire or expire at once.
// Geopos runs keep the fires they already spent.
func (s *Service) Restore(ctx context.Context) (int, error) {
	pending, err := s.campaigns.ListPendingRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending runs: %w", err)
	}

	restored := 0
	for _, c := range pending {
		switch {
		case c.DistributionID.Valid:
			fireAt := time.Now()
			if c.FireAt.Valid {
				fireAt = c.FireAt.Time
			}
			err = s.scheduleDistribution(c.DistributionID.String, fireAt)
		case c.ScheduledGeoposDisseminationID.Valid:
			err = s.scheduleGeopos(c, c.ScheduledGeoposDisseminationID.String, geoposRunOf(c), int(c.FiresUsed))
		default:
			continue
		}
		if err != nil {
			s.logger.Error("failed to restore run", zap.Int64("campaign_id", c.ID), zap.Error(err))
			continue
		}
		restored++
	}

	s.logger.Info("dissemination runs restored", zap.Int("count", restored))
	return restored, nil
}

func geoposRunOf(c *campaign.Campaign) campaign.GeoposRun {
	return campaign.GeoposRun{
		Zone: campaign.GeoZone{
			Latitude:  c.ZoneLatitude.Float64,
			Longitude: c.ZoneLongitude.Float64,
			RadiusKm:  c.ZoneRadiusKm.Float64,
		},
		Start:    c.WindowStart.Time,
		End:      c.WindowEnd.Time,
		MaxFires: int(c.MaxFires.Int32),
	}
}
