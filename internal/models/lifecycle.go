package models

import "time"

// LifecycleState is the single authoritative stage of the current update
// attempt. It is persisted after every transition so a restart can resume or
// safely abort a mid-flight update.
type LifecycleState string

const (
	StateIdle        LifecycleState = "idle"
	StateChecking    LifecycleState = "checking"
	StateDownloading LifecycleState = "downloading"
	StateBackingUp   LifecycleState = "backing_up"
	StateInstalling  LifecycleState = "installing"
	StateValidating  LifecycleState = "validating"
	StateRolledBack  LifecycleState = "rolled_back"
	StateCommitted   LifecycleState = "committed"
	StateFailed      LifecycleState = "failed"
)

// LifecycleRecord is the persisted daemon lifecycle row. Only the update
// engine writes it; everything else reads.
type LifecycleRecord struct {
	State                 LifecycleState `json:"state"`
	Percent               float64        `json:"percent"`
	TargetVersion         string         `json:"target_version,omitempty"`
	LastError             string         `json:"last_error,omitempty"`
	LastErrorKind         string         `json:"last_error_kind,omitempty"`
	LastOutcome           LifecycleState `json:"last_outcome,omitempty"`
	PeripheralsSuppressed bool           `json:"peripherals_suppressed"`
	AvailableVersion      string         `json:"available_version,omitempty"`
	UpdateAvailable       bool           `json:"update_available"`
	LastCheckTime         *time.Time     `json:"last_check_time,omitempty"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// StatusSnapshot is the read-only view of the engine exposed to the GUI and
// voice front ends. It is never mutated externally.
type StatusSnapshot struct {
	State            LifecycleState `json:"state"`
	Percent          float64        `json:"percent"`
	LastError        string         `json:"last_error,omitempty"`
	LastErrorKind    string         `json:"last_error_kind,omitempty"`
	LastOutcome      LifecycleState `json:"last_outcome,omitempty"`
	ProductType      string         `json:"product_type"`
	DeviceID         string         `json:"device_id"`
	CurrentVersion   string         `json:"current_version"`
	AvailableVersion string         `json:"available_version,omitempty"`
	UpdateAvailable  bool           `json:"update_available"`
	LastCheckTime    *time.Time     `json:"last_check_time,omitempty"`
}

// CheckResult is returned from an explicit update check.
type CheckResult struct {
	Manifest        *Manifest `json:"manifest"`
	CurrentVersion  string    `json:"current_version"`
	UpdateAvailable bool      `json:"update_available"`
}

// ConnectivityResult reports the three independent connectivity probes. Each
// probe is evaluated even if an earlier one fails, to aid diagnosis.
type ConnectivityResult struct {
	NetworkReachable  bool   `json:"network_status"`
	ManifestFetchable bool   `json:"manifest_status"`
	Downloadable      bool   `json:"download_status"`
	Detail            string `json:"detail,omitempty"`
}
