package models

import "time"

// UpdateHistory is an audit row describing the outcome of one update or
// rollback attempt.
type UpdateHistory struct {
	ID          int64     `json:"id"`
	FromVersion string    `json:"from_version"`
	ToVersion   string    `json:"to_version"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
