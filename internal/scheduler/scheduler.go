// Package scheduler turns wall-clock time into engine triggers: daily check
// windows via cron and persisted one-shot tasks such as "install tonight".
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/robotailabs/ota-agent/internal/config"
	"github.com/robotailabs/ota-agent/internal/engine"
	"github.com/robotailabs/ota-agent/internal/models"
	"github.com/robotailabs/ota-agent/internal/services"
)

// Trigger is the scheduler's view of the update engine.
type Trigger interface {
	Check(ctx context.Context) (*models.CheckResult, error)
	Install(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Scheduler owns the task queue. It knows nothing about manifests or
// backups; it only fires triggers at the engine.
type Scheduler struct {
	cfg    *config.Config
	tasks  *services.TaskService
	engine Trigger
	cron   *cron.Cron

	// Now is the clock source. Tests replace it to drive due-task dispatch
	// deterministically.
	Now func() time.Time

	// Staleness is how far past its scheduled time a pending task may be
	// found before it is considered missed and expired instead of fired.
	Staleness time.Duration

	pollInterval time.Duration
	stop         chan struct{}
}

func New(cfg *config.Config, tasks *services.TaskService, trigger Trigger) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		tasks:        tasks,
		engine:       trigger,
		Now:          time.Now,
		Staleness:    time.Hour,
		pollInterval: 30 * time.Second,
	}
}

// Start registers the daily check windows and begins polling the one-shot
// task queue.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()

	for _, raw := range s.cfg.Update.CheckTimes {
		ct, err := config.ParseCheckTime(raw)
		if err != nil {
			return fmt.Errorf("check time %q: %w", raw, err)
		}

		spec := fmt.Sprintf("%d %d * * *", ct.Minute, ct.Hour)
		if _, err := s.cron.AddFunc(spec, func() { s.checkTick(ctx) }); err != nil {
			return fmt.Errorf("register check time %q: %w", raw, err)
		}
	}

	s.cron.Start()
	s.stop = make(chan struct{})
	go s.pollLoop(ctx)

	log.Printf("[Scheduler] Started with check times %v", s.cfg.Update.CheckTimes)
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Scheduler) checkTick(ctx context.Context) {
	log.Printf("[Scheduler] Daily check window")
	if _, err := s.engine.Check(ctx); err != nil {
		if errors.Is(err, engine.ErrBusy) {
			log.Printf("[Scheduler] Check skipped, engine busy")
			return
		}
		log.Printf("[Scheduler] Scheduled check failed: %v", err)
	}
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.DispatchDue(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// DispatchDue fires every pending task whose scheduled time has passed.
// Tasks found too long after their window are expired, not fired: a daemon
// that was off overnight must not install at noon.
func (s *Scheduler) DispatchDue(ctx context.Context) {
	now := s.Now()

	due, err := s.tasks.Due(now)
	if err != nil {
		log.Printf("[Scheduler] Failed to query due tasks: %v", err)
		return
	}

	for _, task := range due {
		if task.ScheduledTime != nil && now.Sub(*task.ScheduledTime) > s.Staleness {
			log.Printf("[Scheduler] Expiring missed task %s (%s, due %v)", task.ID, task.Kind, task.ScheduledTime)
			s.tasks.SetStatus(task.ID, models.TaskFailed)
			continue
		}
		s.run(ctx, task)
	}
}

func (s *Scheduler) run(ctx context.Context, task *models.UpdateTask) {
	log.Printf("[Scheduler] Firing task %s (%s)", task.ID, task.Kind)
	s.tasks.SetStatus(task.ID, models.TaskRunning)

	var err error
	switch task.Kind {
	case models.TaskCheck:
		_, err = s.engine.Check(ctx)
	case models.TaskInstallNow, models.TaskInstallScheduled:
		err = s.engine.Install(ctx)
	case models.TaskRollback:
		err = s.engine.Rollback(ctx)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	if err != nil {
		log.Printf("[Scheduler] Task %s failed: %v", task.ID, err)
		s.tasks.SetStatus(task.ID, models.TaskFailed)
		return
	}
	s.tasks.SetStatus(task.ID, models.TaskCompleted)
}

// InstallTonight schedules a one-shot install for the next nightly window.
func (s *Scheduler) InstallTonight() (*models.UpdateTask, error) {
	when, err := s.nextNightly(s.Now())
	if err != nil {
		return nil, err
	}

	task, err := s.tasks.Create(models.TaskInstallScheduled, &when)
	if err != nil {
		return nil, err
	}

	log.Printf("[Scheduler] Install scheduled for %v (task %s)", when, task.ID)
	return task, nil
}

func (s *Scheduler) nextNightly(now time.Time) (time.Time, error) {
	ct, err := config.ParseCheckTime(s.cfg.Update.NightlyTime)
	if err != nil {
		return time.Time{}, err
	}

	candidate := time.Date(now.Year(), now.Month(), now.Day(), ct.Hour, ct.Minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate, nil
}

// Cancel marks one pending task cancelled.
func (s *Scheduler) Cancel(id string) error {
	return s.tasks.Cancel(id)
}

// CancelPendingInstalls cancels every pending scheduled install and returns
// how many were cancelled.
func (s *Scheduler) CancelPendingInstalls() (int, error) {
	pending, err := s.tasks.PendingByKind(models.TaskInstallScheduled)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, task := range pending {
		if err := s.tasks.Cancel(task.ID); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// Tasks lists recent task records for the control surface.
func (s *Scheduler) Tasks(limit int) ([]*models.UpdateTask, error) {
	return s.tasks.List(limit)
}
