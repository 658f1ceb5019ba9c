package services

import (
	"database/sql"

	"github.com/robotailabs/ota-agent/internal/database"
	"github.com/robotailabs/ota-agent/internal/models"
)

// HistoryService records the outcome of update and rollback attempts.
type HistoryService struct {
	db *database.DB
}

func NewHistoryService(db *database.DB) *HistoryService {
	return &HistoryService{db: db}
}

func (s *HistoryService) Record(fromVersion, toVersion, status, message string) error {
	_, err := s.db.Exec(
		"INSERT INTO update_history (from_version, to_version, status, message) VALUES (?, ?, ?, ?)",
		fromVersion, toVersion, status, message,
	)
	return err
}

func (s *HistoryService) List(limit int) ([]*models.UpdateHistory, error) {
	if limit == 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		"SELECT id, from_version, to_version, status, message, created_at FROM update_history ORDER BY created_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.UpdateHistory
	for rows.Next() {
		var h models.UpdateHistory
		var message sql.NullString
		if err := rows.Scan(&h.ID, &h.FromVersion, &h.ToVersion, &h.Status, &message, &h.CreatedAt); err != nil {
			return nil, err
		}
		if message.Valid {
			h.Message = message.String
		}
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}
