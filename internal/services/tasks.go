package services

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robotailabs/ota-agent/internal/database"
	"github.com/robotailabs/ota-agent/internal/models"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskService persists scheduled one-shot tasks. The scheduler owns these
// records exclusively; the engine only reads them.
type TaskService struct {
	db *database.DB
}

func NewTaskService(db *database.DB) *TaskService {
	return &TaskService{db: db}
}

func (s *TaskService) Create(kind models.TaskKind, scheduledTime *time.Time) (*models.UpdateTask, error) {
	id := uuid.New().String()

	_, err := s.db.Exec(
		"INSERT INTO tasks (id, kind, scheduled_time, status) VALUES (?, ?, ?, ?)",
		id, kind, scheduledTime, models.TaskPending,
	)
	if err != nil {
		return nil, err
	}

	return s.GetByID(id)
}

func (s *TaskService) GetByID(id string) (*models.UpdateTask, error) {
	row := s.db.QueryRow(
		"SELECT id, kind, scheduled_time, status, created_at FROM tasks WHERE id = ?",
		id,
	)
	return scanTask(row)
}

func (s *TaskService) List(limit int) ([]*models.UpdateTask, error) {
	if limit == 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		"SELECT id, kind, scheduled_time, status, created_at FROM tasks ORDER BY created_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// Due returns pending tasks whose scheduled time has passed.
func (s *TaskService) Due(now time.Time) ([]*models.UpdateTask, error) {
	rows, err := s.db.Query(
		"SELECT id, kind, scheduled_time, status, created_at FROM tasks WHERE status = ? AND scheduled_time IS NOT NULL AND scheduled_time <= ? ORDER BY scheduled_time",
		models.TaskPending, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// PendingByKind returns pending tasks of one kind, soonest first.
func (s *TaskService) PendingByKind(kind models.TaskKind) ([]*models.UpdateTask, error) {
	rows, err := s.db.Query(
		"SELECT id, kind, scheduled_time, status, created_at FROM tasks WHERE status = ? AND kind = ? ORDER BY scheduled_time",
		models.TaskPending, kind,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (s *TaskService) SetStatus(id string, status models.TaskStatus) error {
	result, err := s.db.Exec("UPDATE tasks SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Cancel marks a pending task cancelled. Cancelling a task that is already
// running has no effect on the in-flight operation; it only prevents a
// re-trigger, so a running task is left untouched.
func (s *TaskService) Cancel(id string) error {
	result, err := s.db.Exec(
		"UPDATE tasks SET status = ? WHERE id = ? AND status = ?",
		models.TaskCancelled, id, models.TaskPending,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// Distinguish "not pending" from "does not exist".
	if _, err := s.GetByID(id); err != nil {
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.UpdateTask, error) {
	var task models.UpdateTask
	var scheduled sql.NullTime

	err := row.Scan(&task.ID, &task.Kind, &scheduled, &task.Status, &task.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	if scheduled.Valid {
		task.ScheduledTime = &scheduled.Time
	}
	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*models.UpdateTask, error) {
	var tasks []*models.UpdateTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
