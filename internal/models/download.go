package models

// DownloadStatus is the per-file transfer state.
type DownloadStatus string

const (
	DownloadPending    DownloadStatus = "pending"
	DownloadInProgress DownloadStatus = "in_progress"
	DownloadVerified   DownloadStatus = "verified"
	DownloadFailed     DownloadStatus = "failed"
)

// DownloadRecord tracks a single file transfer so a failed package download
// can be retried at file granularity instead of restarting the whole
// transfer.
type DownloadRecord struct {
	ID               string         `json:"id"`
	Path             string         `json:"path"`
	Destination      string         `json:"destination"`
	ExpectedChecksum string         `json:"expected_checksum"`
	Size             int64          `json:"size"`
	BytesReceived    int64          `json:"bytes_received"`
	AttemptCount     int            `json:"attempt_count"`
	Executable       bool           `json:"executable"`
	Status           DownloadStatus `json:"status"`
}
