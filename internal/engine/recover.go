package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robotailabs/ota-agent/internal/models"
	"github.com/robotailabs/ota-agent/internal/otaclient"
	"github.com/robotailabs/ota-agent/internal/services"
)

// Recover reconciles a persisted non-idle lifecycle left by a crash or power
// loss. Peripherals are re-enabled first, before anything else happens.
// Phases before the first destructive write abort cleanly to failed; a crash
// during installing, validating, or a restore retries the rollback so the
// device never stays on a half-applied tree.
func (e *Engine) Recover(ctx context.Context) error {
	rec, err := e.state.Get()
	if err != nil {
		return err
	}

	if rec.PeripheralsSuppressed {
		log.Printf("[Engine] Peripherals were left suppressed, re-enabling")
		e.releasePeripherals()
	}

	switch rec.State {
	case models.StateIdle:
		return nil

	case models.StateFailed:
		e.mu.Lock()
		e.current = models.StateFailed
		e.mu.Unlock()
		log.Printf("[Engine] Resuming in failed state: %s", rec.LastError)
		return nil

	case models.StateChecking, models.StateBackingUp:
		return e.abortInterrupted(rec)

	case models.StateDownloading:
		otaclient.CleanupPartial(e.cfg.DownloadDir())
		return e.abortInterrupted(rec)

	case models.StateInstalling, models.StateValidating, models.StateRolledBack:
		return e.recoverWithRollback(ctx, rec)

	case models.StateCommitted:
		// Crash after validation passed; the tree is good. Finish bookkeeping.
		if rec.TargetVersion != "" && rec.TargetVersion != e.cfg.Device.Version {
			if err := e.cfg.SetVersion(rec.TargetVersion); err != nil {
				return err
			}
		}
		e.state.SetOutcome(models.StateCommitted)
		e.state.SetTargetVersion("")
		e.setState(models.StateIdle, 0)
		log.Printf("[Engine] Finished interrupted commit of %s", rec.TargetVersion)
		return nil

	default:
		return fmt.Errorf("unknown persisted state %q", rec.State)
	}
}

// abortInterrupted settles a crash in a phase before any destructive write.
// Nothing was modified, so failing with a note is safe.
func (e *Engine) abortInterrupted(rec *models.LifecycleRecord) error {
	e.fail(fmt.Errorf("restart interrupted update in %s state", rec.State))
	return nil
}

// recoverWithRollback handles a crash after the install began mutating the
// tree. The backup from the interrupted flow is the restore target.
func (e *Engine) recoverWithRollback(ctx context.Context, rec *models.LifecycleRecord) error {
	log.Printf("[Engine] Restart interrupted update in %s state, attempting rollback", rec.State)

	backup, err := e.backupDB.LatestVerified(e.cfg.Device.ProductType)
	if err != nil {
		if errors.Is(err, services.ErrBackupNotFound) {
			e.fail(fmt.Errorf("%w: interrupted %s with no verified backup", errRestore, rec.State))
			return nil
		}
		return err
	}

	e.mu.Lock()
	e.current = models.StateRolledBack
	e.mu.Unlock()
	e.state.SetState(models.StateRolledBack, 0)
	e.publishState(models.StateRolledBack, 0, "recovering interrupted install")

	e.restore(ctx, backup, rec.TargetVersion)
	return nil
}
