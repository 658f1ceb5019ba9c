package services

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/robotailabs/ota-agent/internal/database"
	"github.com/robotailabs/ota-agent/internal/models"
)

// DownloadService persists per-file transfer state so a failed package
// transfer can be resumed at file granularity.
type DownloadService struct {
	db *database.DB
}

func NewDownloadService(db *database.DB) *DownloadService {
	return &DownloadService{db: db}
}

// Reset replaces all transfer state with fresh pending records for the
// manifest's files. Called at the start of a download phase.
func (s *DownloadService) Reset(files []models.ManifestFile) ([]*models.DownloadRecord, error) {
	if _, err := s.db.Exec("DELETE FROM downloads"); err != nil {
		return nil, err
	}

	recs := make([]*models.DownloadRecord, 0, len(files))
	for _, f := range files {
		rec := &models.DownloadRecord{
			ID:               uuid.New().String(),
			Path:             f.Path,
			Destination:      f.Destination,
			ExpectedChecksum: f.Checksum,
			Size:             f.Size,
			Executable:       f.Executable,
			Status:           models.DownloadPending,
		}
		_, err := s.db.Exec(
			"INSERT INTO downloads (id, path, destination, expected_checksum, size, executable, status) VALUES (?, ?, ?, ?, ?, ?, ?)",
			rec.ID, rec.Path, rec.Destination, rec.ExpectedChecksum, rec.Size, rec.Executable, rec.Status,
		)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Save writes back a record's mutable transfer fields.
func (s *DownloadService) Save(rec *models.DownloadRecord) error {
	_, err := s.db.Exec(
		"UPDATE downloads SET bytes_received = ?, attempt_count = ?, status = ? WHERE id = ?",
		rec.BytesReceived, rec.AttemptCount, rec.Status, rec.ID,
	)
	return err
}

func (s *DownloadService) List() ([]*models.DownloadRecord, error) {
	rows, err := s.db.Query(
		"SELECT id, path, destination, expected_checksum, size, bytes_received, attempt_count, executable, status FROM downloads ORDER BY path",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.DownloadRecord
	for rows.Next() {
		var rec models.DownloadRecord
		var dest sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Path, &dest, &rec.ExpectedChecksum, &rec.Size, &rec.BytesReceived, &rec.AttemptCount, &rec.Executable, &rec.Status); err != nil {
			return nil, err
		}
		if dest.Valid {
			rec.Destination = dest.String
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
