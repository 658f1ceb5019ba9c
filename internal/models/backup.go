package models

import "time"

// Backup is a compressed snapshot of the installed tree. A backup is
// immutable once verified; an unverified backup is never used for restoration
// and never counts toward retention.
type Backup struct {
	ID                 string    `json:"id"`
	ProductType        string    `json:"product_type"`
	VersionSnapshotted string    `json:"version_snapshotted"`
	Path               string    `json:"path"`
	SizeBytes          int64     `json:"size_bytes"`
	Checksum           string    `json:"checksum"`
	Verified           bool      `json:"verified"`
	CreatedAt          time.Time `json:"created_at"`
}
