package scheduler_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robotailabs/ota-agent/internal/config"
	"github.com/robotailabs/ota-agent/internal/database"
	"github.com/robotailabs/ota-agent/internal/models"
	"github.com/robotailabs/ota-agent/internal/scheduler"
	"github.com/robotailabs/ota-agent/internal/services"
)

// recordingTrigger counts what the scheduler fires at the engine.
type recordingTrigger struct {
	checks    int
	installs  int
	rollbacks int
	err       error
}

func (r *recordingTrigger) Check(ctx context.Context) (*models.CheckResult, error) {
	r.checks++
	return &models.CheckResult{}, r.err
}

func (r *recordingTrigger) Install(ctx context.Context) error {
	r.installs++
	return r.err
}

func (r *recordingTrigger) Rollback(ctx context.Context) error {
	r.rollbacks++
	return r.err
}

func setupScheduler(t *testing.T) (*scheduler.Scheduler, *services.TaskService, *recordingTrigger) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db := &database.DB{DB: sqlDB}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	tasks := services.NewTaskService(db)
	trigger := &recordingTrigger{}
	return scheduler.New(cfg, tasks, trigger), tasks, trigger
}

func TestScheduler_InstallTonightTargetsNextWindow(t *testing.T) {
	s, _, _ := setupScheduler(t)

	noon := time.Date(2026, 8, 30, 12, 0, 0, 0, time.Local)
	s.Now = func() time.Time { return noon }

	task, err := s.InstallTonight()
	if err != nil {
		t.Fatalf("failed to schedule: %v", err)
	}
	if task.Kind != models.TaskInstallScheduled || task.Status != models.TaskPending {
		t.Errorf("unexpected task %+v", task)
	}

	// Default nightly window is 03:00, so noon schedules for tomorrow 03:00.
	want := time.Date(2026, 8, 31, 3, 0, 0, 0, time.Local)
	if task.ScheduledTime == nil || !task.ScheduledTime.Equal(want) {
		t.Errorf("expected %v, got %v", want, task.ScheduledTime)
	}

	// At 02:00 the same day's window is still ahead.
	s.Now = func() time.Time { return time.Date(2026, 8, 31, 2, 0, 0, 0, time.Local) }
	task, err = s.InstallTonight()
	if err != nil {
		t.Fatalf("failed to schedule: %v", err)
	}
	want = time.Date(2026, 8, 31, 3, 0, 0, 0, time.Local)
	if !task.ScheduledTime.Equal(want) {
		t.Errorf("expected %v, got %v", want, task.ScheduledTime)
	}
}

func TestScheduler_DispatchDueFiresInstall(t *testing.T) {
	s, tasks, trigger := setupScheduler(t)

	now := time.Date(2026, 8, 30, 3, 0, 30, 0, time.Local)
	s.Now = func() time.Time { return now }

	due := now.Add(-time.Minute)
	created, err := tasks.Create(models.TaskInstallScheduled, &due)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	s.DispatchDue(context.Background())

	if trigger.installs != 1 {
		t.Errorf("expected 1 install trigger, got %d", trigger.installs)
	}
	got, _ := tasks.GetByID(created.ID)
	if got.Status != models.TaskCompleted {
		t.Errorf("expected completed, got %q", got.Status)
	}

	// Already-dispatched tasks do not fire again.
	s.DispatchDue(context.Background())
	if trigger.installs != 1 {
		t.Errorf("expected no re-fire, got %d installs", trigger.installs)
	}
}

func TestScheduler_MissedTaskExpires(t *testing.T) {
	s, tasks, trigger := setupScheduler(t)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.Local)
	s.Now = func() time.Time { return now }

	// Scheduled for 03:00, daemon was off, it is now noon.
	missed := now.Add(-9 * time.Hour)
	task, _ := tasks.Create(models.TaskInstallScheduled, &missed)

	s.DispatchDue(context.Background())

	if trigger.installs != 0 {
		t.Errorf("expected missed task not fired, got %d installs", trigger.installs)
	}
	got, _ := tasks.GetByID(task.ID)
	if got.Status != models.TaskFailed {
		t.Errorf("expected expired task marked failed, got %q", got.Status)
	}
}

func TestScheduler_CancelledTaskNeverFires(t *testing.T) {
	s, tasks, trigger := setupScheduler(t)

	now := time.Date(2026, 8, 30, 3, 5, 0, 0, time.Local)
	s.Now = func() time.Time { return now }

	due := now.Add(-time.Minute)
	task, _ := tasks.Create(models.TaskInstallScheduled, &due)

	if err := s.Cancel(task.ID); err != nil {
		t.Fatalf("failed to cancel: %v", err)
	}

	s.DispatchDue(context.Background())
	if trigger.installs != 0 {
		t.Errorf("expected cancelled task not fired, got %d installs", trigger.installs)
	}
	got, _ := tasks.GetByID(task.ID)
	if got.Status != models.TaskCancelled {
		t.Errorf("expected cancelled, got %q", got.Status)
	}
}

func TestScheduler_CancelPendingInstalls(t *testing.T) {
	s, tasks, _ := setupScheduler(t)

	future := time.Now().Add(time.Hour)
	tasks.Create(models.TaskInstallScheduled, &future)
	tasks.Create(models.TaskInstallScheduled, &future)
	tasks.Create(models.TaskCheck, nil)

	n, err := s.CancelPendingInstalls()
	if err != nil {
		t.Fatalf("failed to cancel pending installs: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cancelled, got %d", n)
	}

	pending, _ := tasks.PendingByKind(models.TaskInstallScheduled)
	if len(pending) != 0 {
		t.Errorf("expected no pending installs, got %d", len(pending))
	}
}

func TestScheduler_BusyEngineMarksTaskFailed(t *testing.T) {
	s, tasks, trigger := setupScheduler(t)
	trigger.err = context.DeadlineExceeded

	now := time.Now()
	s.Now = func() time.Time { return now }

	due := now.Add(-time.Minute)
	task, _ := tasks.Create(models.TaskInstallScheduled, &due)

	s.DispatchDue(context.Background())

	got, _ := tasks.GetByID(task.ID)
	if got.Status != models.TaskFailed {
		t.Errorf("expected failed, got %q", got.Status)
	}
}
