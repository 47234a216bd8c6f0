// Package scheduler runs keyed jobs on one-shot and event-armed triggers and
// reports when a trigger will not fire again.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrJobExists  = errors.New("job already scheduled")
	ErrUnknownJob = errors.New("no job scheduled under key")
	ErrNotArmed   = errors.New("trigger is not armed")

	// ErrSkipped is returned by a job whose execution did nothing. The fire
	// is not counted against the trigger's limit.
	ErrSkipped = errors.New("execution skipped")
)

type JobKey struct {
	Group string
	ID    string
}

func (k JobKey) String() string { return k.Group + "/" + k.ID }

// JobData is handed to every execution. Fire may add entries for a single
// execution.
type JobData map[string]string

type Job func(ctx context.Context, key JobKey, data JobData) error

// TriggerEvent is published once per job, after its last execution.
type TriggerEvent struct {
	Key  JobKey
	Data JobData
}

type triggerKind int

const (
	kindOnce triggerKind = iota
	kindArmed
)

type Trigger struct {
	kind     triggerKind
	at       time.Time
	start    time.Time
	end      time.Time
	maxFires int
	used     int
}

// Once fires a single time at at. A time in the past fires immediately.
func Once(at time.Time) Trigger {
	return Trigger{kind: kindOnce, at: at}
}

// Armed fires only through Fire, between start and end and at most maxFires
// times. maxFires <= 0 means no limit.
func Armed(start, end time.Time, maxFires int) Trigger {
	return Trigger{kind: kindArmed, start: start, end: end, maxFires: maxFires}
}

// Resume counts used fires as already spent. A trigger with no fires left
// completes as soon as it is scheduled.
func (t Trigger) Resume(used int) Trigger {
	if used > 0 {
		t.used = used
	}
	return t
}

type entry struct {
	key     JobKey
	data    JobData
	trigger Trigger
	job     Job

	timer    *time.Timer
	fires    int
	inflight int
	done     bool
	expired  bool

	exec sync.Mutex // serializes executions of this key
}

type Scheduler struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[JobKey]*entry

	stopped bool

	completions chan TriggerEvent
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:      logger,
		now:         time.Now,
		entries:     make(map[JobKey]*entry),
		completions: make(chan TriggerEvent, 64),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Completions delivers one TriggerEvent per finished job.
func (s *Scheduler) Completions() <-chan TriggerEvent {
	return s.completions
}

// Run blocks until ctx is done, then stops all timers and waits for running
// executions.
func (s *Scheduler) Run(ctx context.Context) {
	<-ctx.Done()

	s.mu.Lock()
	s.stopped = true
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) Schedule(key JobKey, data JobData, trigger Trigger, job Job) error {
	if job == nil {
		return fmt.Errorf("schedule %s: nil job", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("schedule %s: scheduler stopped", key)
	}
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("schedule %s: %w", key, ErrJobExists)
	}

	e := &entry{key: key, data: copyData(data, nil), trigger: trigger, job: job}
	s.entries[key] = e

	switch trigger.kind {
	case kindOnce:
		e.timer = time.AfterFunc(trigger.at.Sub(s.now()), func() { s.fireOnce(e) })
	case kindArmed:
		e.fires = trigger.used
		wait := trigger.end.Sub(s.now())
		if e.exhausted() {
			wait = 0
		}
		e.timer = time.AfterFunc(wait, func() { s.expire(e) })
	}

	s.logger.Debug("job scheduled", zap.String("key", key.String()))
	return nil
}

// Fire runs an armed job once with data merged over its own.
func (s *Scheduler) Fire(key JobKey, extra JobData) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("fire %s: %w", key, ErrUnknownJob)
	}

	now := s.now()
	t := e.trigger
	if s.stopped || e.done || t.kind != kindArmed || e.exhausted() || now.Before(t.start) || !now.Before(t.end) {
		s.mu.Unlock()
		return fmt.Errorf("fire %s: %w", key, ErrNotArmed)
	}

	e.fires++
	if e.exhausted() {
		// the window timer keeps running in case a skipped execution
		// hands the fire back
		e.done = true
	}
	e.inflight++
	data := copyData(e.data, extra)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(e, data)
	return nil
}

// Unschedule drops a job without a completion event. Running executions
// finish.
func (s *Scheduler) Unschedule(key JobKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.done = true
	delete(s.entries, key)
	return true
}

// Scheduled reports whether key still has a live trigger.
func (s *Scheduler) Scheduled(key JobKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && !e.done
}

func (s *Scheduler) fireOnce(e *entry) {
	s.mu.Lock()
	if s.stopped || e.done || s.entries[e.key] != e {
		s.mu.Unlock()
		return
	}
	e.fires++
	e.done = true
	e.inflight++
	data := copyData(e.data, nil)
	s.wg.Add(1)
	s.mu.Unlock()

	s.execute(e, data)
}

// expire closes the window of an armed trigger.
func (s *Scheduler) expire(e *entry) {
	s.mu.Lock()
	if s.stopped || e.done || s.entries[e.key] != e {
		s.mu.Unlock()
		return
	}
	e.done = true
	e.expired = true
	complete := e.inflight == 0
	if complete {
		delete(s.entries, e.key)
	}
	s.mu.Unlock()

	if complete {
		s.complete(e)
	}
}

func (s *Scheduler) execute(e *entry, data JobData) {
	defer s.wg.Done()

	e.exec.Lock()
	err := s.runJob(e, data)
	e.exec.Unlock()

	s.mu.Lock()
	e.inflight--
	if errors.Is(err, ErrSkipped) && e.trigger.kind == kindArmed {
		e.fires--
		if e.done && !e.expired && !s.stopped && s.entries[e.key] == e && s.now().Before(e.trigger.end) {
			e.done = false
		}
	}
	complete := e.done && e.inflight == 0 && s.entries[e.key] == e
	if complete {
		delete(s.entries, e.key)
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.mu.Unlock()

	if complete {
		s.complete(e)
	}
}

func (s *Scheduler) runJob(e *entry, data JobData) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked",
				zap.String("key", e.key.String()),
				zap.Any("panic", r),
			)
			err = nil
		}
	}()

	err = e.job(s.ctx, e.key, data)
	switch {
	case errors.Is(err, ErrSkipped):
		s.logger.Debug("job skipped", zap.String("key", e.key.String()), zap.Error(err))
	case err != nil:
		s.logger.Error("job failed",
			zap.String("key", e.key.String()),
			zap.Error(err),
		)
	}
	return err
}

func (e *entry) exhausted() bool {
	return e.trigger.maxFires > 0 && e.fires >= e.trigger.maxFires
}

func (s *Scheduler) complete(e *entry) {
	ev := TriggerEvent{Key: e.key, Data: copyData(e.data, nil)}
	select {
	case s.completions <- ev:
	case <-s.ctx.Done():
		s.logger.Warn("completion dropped on shutdown", zap.String("key", e.key.String()))
	}
}

func copyData(base, extra JobData) JobData {
	out := make(JobData, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
