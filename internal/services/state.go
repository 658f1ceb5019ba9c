package services

import (
	"database/sql"
	"time"

	"github.com/robotailabs/ota-agent/internal/database"
	"github.com/robotailabs/ota-agent/internal/models"
)

// StateService persists the single lifecycle row. It is written after every
// transition so a restart can reconcile a mid-flight update. Only the update
// engine writes it.
type StateService struct {
	db *database.DB
}

func NewStateService(db *database.DB) *StateService {
	return &StateService{db: db}
}

// Get reads the lifecycle row, creating the initial idle row on first use.
func (s *StateService) Get() (*models.LifecycleRecord, error) {
	rec, err := s.get()
	if err != sql.ErrNoRows {
		return rec, err
	}

	if _, err := s.db.Exec("INSERT INTO lifecycle (id, state) VALUES (1, ?)", models.StateIdle); err != nil {
		return nil, err
	}
	return s.get()
}

func (s *StateService) get() (*models.LifecycleRecord, error) {
	var rec models.LifecycleRecord
	var target, lastErr, lastErrKind, outcome, available sql.NullString
	var lastCheck sql.NullTime

	err := s.db.QueryRow(`
		SELECT state, percent, target_version, last_error, last_error_kind, last_outcome,
		       peripherals_suppressed, available_version, update_available, last_check_time, updated_at
		FROM lifecycle WHERE id = 1
	`).Scan(&rec.State, &rec.Percent, &target, &lastErr, &lastErrKind, &outcome,
		&rec.PeripheralsSuppressed, &available, &rec.UpdateAvailable, &lastCheck, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if target.Valid {
		rec.TargetVersion = target.String
	}
	if lastErr.Valid {
		rec.LastError = lastErr.String
	}
	if lastErrKind.Valid {
		rec.LastErrorKind = lastErrKind.String
	}
	if outcome.Valid {
		rec.LastOutcome = models.LifecycleState(outcome.String)
	}
	if available.Valid {
		rec.AvailableVersion = available.String
	}
	if lastCheck.Valid {
		rec.LastCheckTime = &lastCheck.Time
	}
	return &rec, nil
}

// SetState records a lifecycle transition.
func (s *StateService) SetState(state models.LifecycleState, percent float64) error {
	_, err := s.db.Exec(
		"UPDATE lifecycle SET state = ?, percent = ?, updated_at = ? WHERE id = 1",
		state, percent, time.Now(),
	)
	return err
}

func (s *StateService) SetPercent(percent float64) error {
	_, err := s.db.Exec("UPDATE lifecycle SET percent = ?, updated_at = ? WHERE id = 1", percent, time.Now())
	return err
}

func (s *StateService) SetTargetVersion(version string) error {
	_, err := s.db.Exec("UPDATE lifecycle SET target_version = ?, updated_at = ? WHERE id = 1", version, time.Now())
	return err
}

func (s *StateService) SetError(kind, message string) error {
	_, err := s.db.Exec(
		"UPDATE lifecycle SET last_error = ?, last_error_kind = ?, updated_at = ? WHERE id = 1",
		message, kind, time.Now(),
	)
	return err
}

func (s *StateService) ClearError() error {
	_, err := s.db.Exec("UPDATE lifecycle SET last_error = NULL, last_error_kind = NULL, updated_at = ? WHERE id = 1", time.Now())
	return err
}

func (s *StateService) SetOutcome(outcome models.LifecycleState) error {
	_, err := s.db.Exec("UPDATE lifecycle SET last_outcome = ?, updated_at = ? WHERE id = 1", outcome, time.Now())
	return err
}

// SetPeripheralsSuppressed persists the peripheral guard flag so a crash
// during install can re-enable peripherals on the next start.
func (s *StateService) SetPeripheralsSuppressed(suppressed bool) error {
	_, err := s.db.Exec("UPDATE lifecycle SET peripherals_suppressed = ?, updated_at = ? WHERE id = 1", suppressed, time.Now())
	return err
}

// SetAvailable records the outcome of an update check.
func (s *StateService) SetAvailable(available bool, version string, checkedAt time.Time) error {
	_, err := s.db.Exec(
		"UPDATE lifecycle SET update_available = ?, available_version = ?, last_check_time = ?, updated_at = ? WHERE id = 1",
		available, version, checkedAt, time.Now(),
	)
	return err
}
