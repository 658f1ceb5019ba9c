package services

import (
	"database/sql"
	"errors"
	"time"

	"github.com/robotailabs/ota-agent/internal/database"
	"github.com/robotailabs/ota-agent/internal/models"
)

var ErrBackupNotFound = errors.New("backup not found")

// BackupService persists backup metadata. Archive contents live on disk; the
// records here are what retention and restoration decisions are made from.
type BackupService struct {
	db *database.DB
}

func NewBackupService(db *database.DB) *BackupService {
	return &BackupService{db: db}
}

func (s *BackupService) Record(b *models.Backup) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		"INSERT INTO backups (id, product_type, version_snapshotted, path, size_bytes, checksum, verified, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		b.ID, b.ProductType, b.VersionSnapshotted, b.Path, b.SizeBytes, b.Checksum, b.Verified, b.CreatedAt,
	)
	return err
}

func (s *BackupService) GetByID(id string) (*models.Backup, error) {
	row := s.db.QueryRow(
		"SELECT id, product_type, version_snapshotted, path, size_bytes, checksum, verified, created_at FROM backups WHERE id = ?",
		id,
	)
	return scanBackup(row)
}

// List returns all backups for a product, newest first.
func (s *BackupService) List(productType string) ([]*models.Backup, error) {
	rows, err := s.db.Query(
		"SELECT id, product_type, version_snapshotted, path, size_bytes, checksum, verified, created_at FROM backups WHERE product_type = ? ORDER BY created_at DESC, id DESC",
		productType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBackups(rows)
}

// ListVerified returns verified backups for a product, newest first. Only
// these count toward retention and restoration.
func (s *BackupService) ListVerified(productType string) ([]*models.Backup, error) {
	rows, err := s.db.Query(
		"SELECT id, product_type, version_snapshotted, path, size_bytes, checksum, verified, created_at FROM backups WHERE product_type = ? AND verified ORDER BY created_at DESC, id DESC",
		productType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBackups(rows)
}

// LatestVerified returns the most recent verified backup for a product.
func (s *BackupService) LatestVerified(productType string) (*models.Backup, error) {
	row := s.db.QueryRow(
		"SELECT id, product_type, version_snapshotted, path, size_bytes, checksum, verified, created_at FROM backups WHERE product_type = ? AND verified ORDER BY created_at DESC, id DESC LIMIT 1",
		productType,
	)
	return scanBackup(row)
}

func (s *BackupService) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM backups WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBackupNotFound
	}
	return nil
}

func scanBackup(row rowScanner) (*models.Backup, error) {
	var b models.Backup
	var checksum sql.NullString

	err := row.Scan(&b.ID, &b.ProductType, &b.VersionSnapshotted, &b.Path, &b.SizeBytes, &checksum, &b.Verified, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBackupNotFound
	}
	if err != nil {
		return nil, err
	}

	if checksum.Valid {
		b.Checksum = checksum.String
	}
	return &b, nil
}

func scanBackups(rows *sql.Rows) ([]*models.Backup, error) {
	var backups []*models.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}
