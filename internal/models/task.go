package models

import "time"

// TaskKind identifies what a scheduled task will do when it fires.
type TaskKind string

const (
	TaskCheck            TaskKind = "check"
	TaskInstallNow       TaskKind = "install_now"
	TaskInstallScheduled TaskKind = "install_scheduled"
	TaskRollback         TaskKind = "rollback"
)

// TaskStatus is the lifecycle of a scheduled task record.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// UpdateTask is a persisted record of a scheduled or decided action. Tasks
// survive a daemon restart; the scheduler owns them exclusively.
type UpdateTask struct {
	ID            string     `json:"id"`
	Kind          TaskKind   `json:"kind"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	Status        TaskStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}
