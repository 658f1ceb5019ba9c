package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robotailabs/ota-agent/internal/events"
	"github.com/robotailabs/ota-agent/internal/integrity"
	"github.com/robotailabs/ota-agent/internal/models"
	"github.com/robotailabs/ota-agent/internal/otaclient"
)

// runUpdate drives one full update attempt. It is entered with the lifecycle
// already claimed in the checking state and always leaves it in idle or
// failed. Cancellation is honored only during the download phase; everything
// after must run to a terminal outcome.
func (e *Engine) runUpdate(ctx context.Context) {
	manifest, err := e.client.FetchManifest(ctx)
	if err != nil {
		e.recordError(err)
		e.setState(models.StateIdle, 0)
		return
	}

	available, err := integrity.UpdateAvailable(e.cfg.Device.Version, manifest.Version)
	if err != nil {
		e.recordError(fmt.Errorf("%w: bad version %q: %v", otaclient.ErrManifestInvalid, manifest.Version, err))
		e.setState(models.StateIdle, 0)
		return
	}
	e.state.SetAvailable(available, manifest.Version, time.Now())

	if !available {
		log.Printf("[Engine] Already current (%s), nothing to install", e.cfg.Device.Version)
		e.setState(models.StateIdle, 0)
		return
	}

	fromVersion := e.cfg.Device.Version
	e.state.SetTargetVersion(manifest.Version)
	log.Printf("[Engine] Starting update %s -> %s", fromVersion, manifest.Version)

	if err := e.verifyPackageSignature(manifest); err != nil {
		e.fail(err)
		return
	}

	// Fail fast before any write: the update payload plus a full backup must
	// fit on disk.
	if err := e.backups.CheckDiskSpace(manifest.TotalSize() + e.backups.EstimatedBytes()); err != nil {
		e.fail(err)
		return
	}

	if !e.download(ctx, manifest) {
		return
	}

	backupRec, err := e.createBackup(ctx, fromVersion)
	if err != nil {
		e.fail(err)
		return
	}

	e.setState(models.StateInstalling, 70)
	e.suppressPeripherals()

	if err := e.apply(manifest); err != nil {
		e.recordError(fmt.Errorf("%w: %v", errApply, err))
		e.autoRollback(ctx, backupRec, fromVersion, manifest.Version)
		return
	}

	e.setState(models.StateValidating, 90)
	if err := e.validate(ctx, manifest); err != nil {
		e.recordError(fmt.Errorf("%w: %v", errValidation, err))
		e.autoRollback(ctx, backupRec, fromVersion, manifest.Version)
		return
	}

	e.commit(ctx, fromVersion, manifest.Version)
}

// verifyPackageSignature gates the package on its ed25519 signature over the
// whole-package digest. No configured trusted key disables the gate.
func (e *Engine) verifyPackageSignature(m *models.Manifest) error {
	key := e.cfg.Update.SigningKey
	if key == "" {
		return nil
	}
	if m.Signature == "" {
		return fmt.Errorf("%w: manifest carries no signature", ErrSignatureInvalid)
	}

	ok, err := integrity.VerifySignature([]byte(m.Checksum), m.Signature, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !ok {
		return fmt.Errorf("%w: signature does not match trusted key", ErrSignatureInvalid)
	}
	return nil
}

// download runs the cancellable download phase. Returns false when the flow
// ended here, with the lifecycle already moved to its resulting state.
func (e *Engine) download(ctx context.Context, manifest *models.Manifest) bool {
	recs, err := e.downloads.Reset(manifest.Files)
	if err != nil {
		e.fail(err)
		return false
	}

	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancelDownload = cancel
	e.current = models.StateDownloading
	e.mu.Unlock()
	e.state.SetState(models.StateDownloading, 10)
	e.publishState(models.StateDownloading, 10, "")

	progress := func(done, total int) {
		e.setProgress(10 + 50*float64(done)/float64(total))
	}
	err = e.client.DownloadAll(dlCtx, recs, e.cfg.DownloadDir(), progress)

	e.mu.Lock()
	e.cancelDownload = nil
	e.mu.Unlock()

	for _, rec := range recs {
		e.downloads.Save(rec)
	}

	if err != nil {
		otaclient.CleanupPartial(e.cfg.DownloadDir())
		if errors.Is(err, context.Canceled) {
			log.Printf("[Engine] Download cancelled, partial files removed")
			e.state.SetOutcome("")
			e.setState(models.StateIdle, 0)
			e.publishState(models.StateIdle, 0, "download cancelled")
			return false
		}
		e.fail(err)
		return false
	}
	return true
}

func (e *Engine) createBackup(ctx context.Context, version string) (*models.Backup, error) {
	e.setState(models.StateBackingUp, 60)

	rec, err := e.backups.Create(ctx, e.cfg.Device.ProductType, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBackup, err)
	}
	return rec, nil
}

// suppressPeripherals disables the microphone, speaker, and projector for the
// install window. The flag is persisted first so a crash between persist and
// disable still re-enables on restart.
func (e *Engine) suppressPeripherals() {
	e.state.SetPeripheralsSuppressed(true)
	if err := e.periph.Disable(); err != nil {
		log.Printf("[Engine] Failed to suppress peripherals: %v", err)
	}
}

func (e *Engine) releasePeripherals() {
	if err := e.periph.Enable(); err != nil {
		log.Printf("[Engine] Failed to re-enable peripherals: %v", err)
	}
	e.state.SetPeripheralsSuppressed(false)
}

// commit finalizes a validated install: version bump, backup rotation, server
// report, history row, and return to idle.
func (e *Engine) commit(ctx context.Context, fromVersion, toVersion string) {
	e.releasePeripherals()
	e.state.SetOutcome(models.StateCommitted)
	e.setState(models.StateCommitted, 100)

	if err := e.cfg.SetVersion(toVersion); err != nil {
		log.Printf("[Engine] Failed to persist new version: %v", err)
	}
	e.state.SetAvailable(false, "", time.Now())
	e.state.SetTargetVersion("")

	if err := e.backups.Rotate(e.cfg.Device.ProductType); err != nil {
		log.Printf("[Engine] Backup rotation failed: %v", err)
	}

	e.history.Record(fromVersion, toVersion, "success", "update committed")
	if err := e.client.ReportStatus(ctx, toVersion, "success", "update committed"); err != nil {
		log.Printf("[Engine] Status report failed: %v", err)
	}

	e.bus.Publish(events.Event{
		Type:    events.TypeUpdateApplied,
		Version: toVersion,
		Message: fmt.Sprintf("updated %s to %s", fromVersion, toVersion),
	})
	log.Printf("[Engine] Update committed: %s -> %s", fromVersion, toVersion)

	e.setState(models.StateIdle, 0)
}
