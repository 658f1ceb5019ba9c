package models

// Severity classifies how urgent an update is. It affects how the update is
// surfaced to the user, not how it is applied.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityNormal   Severity = "normal"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is a known severity value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityNormal, SeverityLow:
		return true
	}
	return false
}

// ManifestFile describes a single file within an update package.
type ManifestFile struct {
	Path        string `json:"path"`
	Destination string `json:"destination,omitempty"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	Executable  bool   `json:"executable,omitempty"`
}

// Manifest is the server-declared description of the latest update package.
// It is immutable once fetched.
type Manifest struct {
	Version      string         `json:"version"`
	Severity     Severity       `json:"severity"`
	ReleaseDate  string         `json:"release_date,omitempty"`
	ReleaseNotes string         `json:"release_notes"`
	Files        []ManifestFile `json:"files"`
	Checksum     string         `json:"checksum"`
	Signature    string         `json:"signature,omitempty"`
}

// TotalSize returns the sum of all declared file sizes in bytes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}
