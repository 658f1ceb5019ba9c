package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robotailabs/ota-agent/internal/events"
	"github.com/robotailabs/ota-agent/internal/models"
	"github.com/robotailabs/ota-agent/internal/services"
)

// Rollback restores the most recent verified backup on explicit command.
// It is accepted only while no update flow is in flight; rolling back a
// mid-flight install is not supported, it must first reach a terminal state.
func (e *Engine) Rollback(ctx context.Context) error {
	if _, err := e.state.Get(); err != nil {
		return err
	}

	e.mu.Lock()
	switch e.current {
	case models.StateIdle, models.StateFailed:
	default:
		state := e.current
		e.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrBusy, state)
	}

	backup, err := e.backupDB.LatestVerified(e.cfg.Device.ProductType)
	if err != nil {
		e.mu.Unlock()
		if errors.Is(err, services.ErrBackupNotFound) {
			return ErrNoBackup
		}
		return err
	}

	e.current = models.StateRolledBack
	e.mu.Unlock()

	e.state.ClearError()
	e.state.SetState(models.StateRolledBack, 0)
	e.publishState(models.StateRolledBack, 0, "manual rollback")

	go e.restore(context.WithoutCancel(ctx), backup, e.cfg.Device.Version)
	return nil
}

// autoRollback restores the backup taken earlier in this same update flow.
// Invoked on apply errors and validation failures; the error has already been
// recorded.
func (e *Engine) autoRollback(ctx context.Context, backup *models.Backup, fromVersion, targetVersion string) {
	log.Printf("[Engine] Rolling back to %s after failed update to %s",
		backup.VersionSnapshotted, targetVersion)

	e.history.Record(fromVersion, targetVersion, "failed", "update failed, rolling back")
	e.setState(models.StateRolledBack, 0)
	e.restore(ctx, backup, targetVersion)
}

// restore performs the actual restoration and settles the lifecycle: idle on
// success, failed with a fatal RestoreFailed on any restore error. The
// peripherals guard is released on both paths.
func (e *Engine) restore(ctx context.Context, backup *models.Backup, failedVersion string) {
	err := e.backups.Restore(ctx, backup)

	e.releasePeripherals()

	if err != nil {
		e.history.Record(failedVersion, backup.VersionSnapshotted, "restore_failed", err.Error())
		e.fail(fmt.Errorf("%w: %v", errRestore, err))
		return
	}

	if err := e.cfg.SetVersion(backup.VersionSnapshotted); err != nil {
		log.Printf("[Engine] Failed to persist restored version: %v", err)
	}
	if rerr := e.restartService(); rerr != nil {
		log.Printf("[Engine] Service restart after restore failed: %v", rerr)
	}
	e.state.SetTargetVersion("")
	e.state.SetAvailable(false, "", time.Now())
	e.state.SetOutcome(models.StateRolledBack)

	e.history.Record(failedVersion, backup.VersionSnapshotted, "rolled_back", "restored from backup")
	if rerr := e.client.ReportStatus(ctx, backup.VersionSnapshotted, "rolled_back", "restored from backup"); rerr != nil {
		log.Printf("[Engine] Status report failed: %v", rerr)
	}

	e.bus.Publish(events.Event{
		Type:    events.TypeRollback,
		Version: backup.VersionSnapshotted,
		Message: fmt.Sprintf("rolled back to %s", backup.VersionSnapshotted),
	})
	log.Printf("[Engine] Rollback completed, now at %s", backup.VersionSnapshotted)

	e.setState(models.StateIdle, 0)
}
