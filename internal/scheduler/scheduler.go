// Package scheduler fires workflow schedules on cron ticks. It survives
// restarts by persisting run markers (missed-run catch-up) and heals dropped
// registrations with a periodic watchdog.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/workflow"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/hive/internal/scheduler")

const watchdogInterval = 5 * time.Minute

// Runner executes a workflow on behalf of its owner. Satisfied by
// *workflow.Engine.
type Runner interface {
	ExecuteWorkflow(ctx context.Context, workflowID, callerID string) (*workflow.RunReport, error)
}

// entry is one registered schedule with its ticking goroutine.
type entry struct {
	schedule *store.Schedule
	loc      *time.Location
	cancel   context.CancelFunc
}

// Scheduler owns one goroutine per active schedule. Each goroutine sleeps
// to the next cron tick, runs the workflow, then computes its next wake-up,
// so ticks of one schedule never overlap.
type Scheduler struct {
	schedules store.ScheduleStore
	engine    Runner

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now      func() time.Time
	watchdog time.Duration
}

func New(schedules store.ScheduleStore, engine Runner) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		engine:    engine,
		entries:   make(map[string]*entry),
		now:       time.Now,
		watchdog:  watchdogInterval,
	}
}

// ValidateCron reports whether expr parses as a cron expression.
func ValidateCron(expr string) bool {
	return gronx.New().IsValid(expr)
}

// LoadLocation resolves an IANA zone name. Unknown names fall back to UTC
// with ok=false so callers can warn.
func LoadLocation(name string) (*time.Location, bool) {
	if name == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// NextRunTime computes the tick after the given instant, nil when the
// expression does not parse. Unknown timezones compute in UTC.
func NextRunTime(expr, timezone string, after time.Time) *time.Time {
	if !ValidateCron(expr) {
		return nil
	}
	loc, _ := LoadLocation(timezone)
	next, err := gronx.NextTickAfter(expr, after.In(loc), false)
	if err != nil {
		return nil
	}
	return &next
}

// Start loads every active schedule and begins ticking. ctx bounds all work
// the scheduler does, including the runs themselves.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.loadActive(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.watchdogLoop(s.ctx)
	return nil
}

// Stop cancels every schedule loop and waits for them to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.ctx = nil
	for id, e := range s.entries {
		e.cancel()
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	slog.Info("scheduler: stopped")
}

func (s *Scheduler) loadActive(ctx context.Context) error {
	active, err := s.schedules.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load schedules: %w", err)
	}
	for _, sched := range active {
		s.register(sched)
	}
	slog.Info("scheduler: started", "schedules", len(active))
	return nil
}

// AddSchedule registers a schedule at runtime, replacing any registration
// with the same id.
func (s *Scheduler) AddSchedule(sched *store.Schedule) {
	s.register(sched)
}

// RemoveSchedule stops and forgets one registration.
func (s *Scheduler) RemoveSchedule(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if ok {
		e.cancel()
		slog.Info("scheduler: removed", "schedule_id", id)
	}
}

// ReloadSchedules drops every registration and reloads the active set from
// the store.
func (s *Scheduler) ReloadSchedules(ctx context.Context) error {
	s.mu.Lock()
	for id, e := range s.entries {
		e.cancel()
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return s.loadActive(ctx)
}

// Registered returns the currently ticking schedule ids, sorted.
func (s *Scheduler) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) register(sched *store.Schedule) {
	if !ValidateCron(sched.CronExpression) {
		slog.Warn("scheduler: invalid cron expression, skipping",
			"schedule_id", sched.ID, "expr", sched.CronExpression)
		return
	}
	loc, ok := LoadLocation(sched.Timezone)
	if !ok {
		slog.Warn("scheduler: unknown timezone, using UTC",
			"schedule_id", sched.ID, "timezone", sched.Timezone)
	}

	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if old, exists := s.entries[sched.ID]; exists {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{schedule: sched, loc: loc, cancel: cancel}
	s.entries[sched.ID] = e
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runLoop(ctx, e)
	slog.Info("scheduler: registered",
		"schedule_id", sched.ID, "expr", sched.CronExpression, "timezone", loc.String())
}

// runLoop sleeps to each tick and fires. The next wake-up is computed from
// the previous tick only after the run returns, so an overrunning execution
// makes the missed tick fire immediately afterwards instead of overlapping.
func (s *Scheduler) runLoop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	if e.schedule.NextRunAt != nil && e.schedule.NextRunAt.Before(s.now()) {
		slog.Info("scheduler: catching up missed run",
			"schedule_id", e.schedule.ID, "was_due", e.schedule.NextRunAt)
		s.fire(ctx, e)
	}

	ref := s.now()
	for {
		next, err := gronx.NextTickAfter(e.schedule.CronExpression, ref.In(e.loc), false)
		if err != nil {
			slog.Warn("scheduler: tick computation failed",
				"schedule_id", e.schedule.ID, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(ctx, e)
		ref = next
	}
}

// fire runs the workflow once and atomically persists the run markers.
func (s *Scheduler) fire(ctx context.Context, e *entry) {
	sched := e.schedule
	ctx, span := tracer.Start(ctx, "scheduler.tick")
	span.SetAttributes(
		attribute.String("schedule.id", sched.ID),
		attribute.String("workflow.id", sched.WorkflowID),
	)
	defer span.End()

	report, err := s.engine.ExecuteWorkflow(ctx, sched.WorkflowID, sched.OwnerID)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("scheduler: workflow execution failed",
			"schedule_id", sched.ID, "workflow_id", sched.WorkflowID, "error", err)
	case report.Status != store.RunStatusCompleted:
		span.SetStatus(codes.Error, report.Error)
		slog.Warn("scheduler: workflow run failed",
			"schedule_id", sched.ID, "run_id", report.RunID, "error", report.Error)
	default:
		slog.Info("scheduler: workflow run completed",
			"schedule_id", sched.ID, "run_id", report.RunID, "durationMs", report.TotalDurationMs)
	}

	now := s.now()
	last := now.UTC()
	var nextAt *time.Time
	if next, err := gronx.NextTickAfter(sched.CronExpression, now.In(e.loc), false); err == nil {
		u := next.UTC()
		nextAt = &u
	}
	if err := s.schedules.UpdateRunTimes(ctx, sched.ID, &last, nextAt); err != nil {
		slog.Warn("scheduler: persist run times failed", "schedule_id", sched.ID, "error", err)
	}
}

func (s *Scheduler) watchdogLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.watchdog)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Resync(ctx)
		}
	}
}

// Resync re-registers active schedules that lost their in-memory loop, the
// watchdog's healing pass.
func (s *Scheduler) Resync(ctx context.Context) {
	active, err := s.schedules.ListActive(ctx)
	if err != nil {
		slog.Warn("scheduler: watchdog list failed", "error", err)
		return
	}
	for _, sched := range active {
		s.mu.Lock()
		_, registered := s.entries[sched.ID]
		s.mu.Unlock()
		if !registered {
			slog.Warn("scheduler: watchdog re-registering schedule", "schedule_id", sched.ID)
			s.register(sched)
		}
	}
}
