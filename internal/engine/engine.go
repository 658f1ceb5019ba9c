// Package engine is the update lifecycle state machine. It orchestrates the
// network client, backup manager, and integrity checks into the end-to-end
// flow from idle through check, download, backup, install, and validation to
// commit or rollback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robotailabs/ota-agent/internal/config"
	"github.com/robotailabs/ota-agent/internal/events"
	"github.com/robotailabs/ota-agent/internal/integrity"
	"github.com/robotailabs/ota-agent/internal/models"
	"github.com/robotailabs/ota-agent/internal/otaclient"
	"github.com/robotailabs/ota-agent/internal/services"
)

var (
	// ErrBusy rejects a trigger received while an update or rollback flow is
	// already active. Triggers are rejected, never queued.
	ErrBusy = errors.New("update flow already in progress")

	// ErrNoUpdate means a check found the device already current.
	ErrNoUpdate = errors.New("no update available")

	// ErrNoBackup means a rollback was requested with no verified backup on
	// record. There is nothing to revert to.
	ErrNoBackup = errors.New("no verified backup to restore")

	// ErrNotFailed rejects an acknowledge outside the failed state.
	ErrNotFailed = errors.New("no failure to acknowledge")

	// ErrNotDownloading rejects a download cancel when no download is active.
	ErrNotDownloading = errors.New("no download in progress")

	// ErrSignatureInvalid marks a package whose signature does not verify
	// against the trusted key. The package is rejected before any destructive
	// step.
	ErrSignatureInvalid = errors.New("package signature invalid")
)

// Error kinds surfaced to the control surface alongside last_error.
const (
	KindNetwork          = "NetworkError"
	KindManifestInvalid  = "ManifestInvalid"
	KindChecksumMismatch = "ChecksumMismatch"
	KindSignatureInvalid = "SignatureInvalid"
	KindDiskSpace        = "DiskSpaceError"
	KindBackupFailed     = "BackupFailed"
	KindInstallApply     = "InstallApplyError"
	KindValidationFailed = "PostInstallValidationFailed"
	KindRestoreFailed    = "RestoreFailed"
)

// Client is the engine's view of the network layer.
type Client interface {
	FetchManifest(ctx context.Context) (*models.Manifest, error)
	DownloadAll(ctx context.Context, recs []*models.DownloadRecord, destDir string, progress func(done, total int)) error
	TestConnectivity(ctx context.Context) models.ConnectivityResult
	ReportStatus(ctx context.Context, version, status, message string) error
}

// Backups is the engine's view of the backup manager.
type Backups interface {
	CheckDiskSpace(requiredBytes int64) error
	EstimatedBytes() int64
	Create(ctx context.Context, productType, version string) (*models.Backup, error)
	Restore(ctx context.Context, b *models.Backup) error
	Rotate(productType string) error
}

// Engine owns the persisted lifecycle state. All writes to it go through
// here; the control surface and GUI only read snapshots and enqueue triggers.
type Engine struct {
	cfg       *config.Config
	client    Client
	backups   Backups
	state     *services.StateService
	backupDB  *services.BackupService
	downloads *services.DownloadService
	history   *services.HistoryService
	bus       *events.Bus
	periph    Peripherals
	svc       AppService

	mu             sync.Mutex
	current        models.LifecycleState
	manifest       *models.Manifest
	cancelDownload context.CancelFunc
}

// Stores bundles the sqlite services the engine writes through.
type Stores struct {
	State     *services.StateService
	Backups   *services.BackupService
	Downloads *services.DownloadService
	History   *services.HistoryService
}

func New(cfg *config.Config, client Client, backups Backups, stores Stores, bus *events.Bus, periph Peripherals) *Engine {
	if periph == nil {
		periph = LogPeripherals{}
	}
	return &Engine{
		cfg:       cfg,
		client:    client,
		backups:   backups,
		state:     stores.State,
		backupDB:  stores.Backups,
		downloads: stores.Downloads,
		history:   stores.History,
		bus:       bus,
		periph:    periph,
		current:   models.StateIdle,
	}
}

// AppService restarts the managed application around installs and restores.
type AppService interface {
	Available() bool
	Restart() error
}

// SetService wires the managed application service controller. Without one,
// installs skip the service restart and rely on the health check alone.
func (e *Engine) SetService(svc AppService) {
	e.svc = svc
}

// Snapshot returns the read-only status view the GUI polls.
func (e *Engine) Snapshot() (*models.StatusSnapshot, error) {
	rec, err := e.state.Get()
	if err != nil {
		return nil, err
	}
	return &models.StatusSnapshot{
		State:            rec.State,
		Percent:          rec.Percent,
		LastError:        rec.LastError,
		LastErrorKind:    rec.LastErrorKind,
		LastOutcome:      rec.LastOutcome,
		ProductType:      e.cfg.Device.ProductType,
		DeviceID:         e.cfg.Device.DeviceID,
		CurrentVersion:   e.cfg.Device.Version,
		AvailableVersion: rec.AvailableVersion,
		UpdateAvailable:  rec.UpdateAvailable,
		LastCheckTime:    rec.LastCheckTime,
	}, nil
}

// Connectivity runs the three independent server probes.
func (e *Engine) Connectivity(ctx context.Context) models.ConnectivityResult {
	return e.client.TestConnectivity(ctx)
}

// Check fetches the manifest and decides whether an update is available. It
// is synchronous; the caller gets the manifest back. A transport failure
// after the retry ceiling returns the state to idle with a recorded network
// error, not to failed.
func (e *Engine) Check(ctx context.Context) (*models.CheckResult, error) {
	if err := e.begin(models.StateChecking); err != nil {
		return nil, err
	}

	manifest, err := e.client.FetchManifest(ctx)
	if err != nil {
		e.recordError(err)
		e.setState(models.StateIdle, 0)
		return nil, err
	}

	available, err := integrity.UpdateAvailable(e.cfg.Device.Version, manifest.Version)
	if err != nil {
		err = fmt.Errorf("%w: bad version %q: %v", otaclient.ErrManifestInvalid, manifest.Version, err)
		e.recordError(err)
		e.setState(models.StateIdle, 0)
		return nil, err
	}

	e.state.ClearError()
	e.state.SetAvailable(available, manifest.Version, time.Now())

	e.mu.Lock()
	e.manifest = manifest
	e.mu.Unlock()

	e.setState(models.StateIdle, 0)

	if available {
		e.bus.Publish(events.Event{
			Type:    events.TypeUpdateAvailable,
			Version: manifest.Version,
			Message: manifest.ReleaseNotes,
			Detail:  map[string]interface{}{"severity": string(manifest.Severity)},
		})
		log.Printf("[Engine] Update available: %s -> %s (%s)",
			e.cfg.Device.Version, manifest.Version, manifest.Severity)
	}

	return &models.CheckResult{
		Manifest:        manifest,
		CurrentVersion:  e.cfg.Device.Version,
		UpdateAvailable: available,
	}, nil
}

// Install starts the full download-backup-install-validate flow on a
// background goroutine. It re-checks the manifest first, so a stale cached
// check never installs an outdated package. Returns ErrBusy when a flow is
// already active.
func (e *Engine) Install(ctx context.Context) error {
	if err := e.begin(models.StateChecking); err != nil {
		return err
	}

	go e.runUpdate(context.WithoutCancel(ctx))
	return nil
}

// CancelDownload aborts an in-flight download phase and cleans up partial
// files. Later phases are not cancellable; they run to a terminal outcome.
func (e *Engine) CancelDownload() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != models.StateDownloading || e.cancelDownload == nil {
		return ErrNotDownloading
	}
	e.cancelDownload()
	return nil
}

// Acknowledge moves a failed lifecycle back to idle after the operator has
// seen the failure.
func (e *Engine) Acknowledge() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != models.StateFailed {
		return ErrNotFailed
	}

	e.current = models.StateIdle
	e.state.ClearError()
	e.state.SetState(models.StateIdle, 0)
	e.publishState(models.StateIdle, 0, "failure acknowledged")
	return nil
}

// begin atomically claims the lifecycle for a new flow. Any state other than
// idle means another flow is active and the trigger is rejected.
func (e *Engine) begin(next models.LifecycleState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != models.StateIdle {
		return fmt.Errorf("%w: state is %s", ErrBusy, e.current)
	}

	// Make sure the lifecycle row exists before the transition updates.
	if _, err := e.state.Get(); err != nil {
		return err
	}

	e.current = next
	e.state.ClearError()
	e.state.SetState(next, 0)
	e.publishState(next, 0, "")
	return nil
}

// setState persists a transition and broadcasts it.
func (e *Engine) setState(state models.LifecycleState, percent float64) {
	e.mu.Lock()
	e.current = state
	e.mu.Unlock()

	if err := e.state.SetState(state, percent); err != nil {
		log.Printf("[Engine] Failed to persist state %s: %v", state, err)
	}
	e.publishState(state, percent, "")
}

func (e *Engine) publishState(state models.LifecycleState, percent float64, message string) {
	e.bus.Publish(events.Event{
		Type:    events.TypeStateChanged,
		State:   string(state),
		Percent: percent,
		Message: message,
	})
}

func (e *Engine) setProgress(percent float64) {
	e.state.SetPercent(percent)
	e.bus.Publish(events.Event{Type: events.TypeProgress, State: string(e.currentState()), Percent: percent})
}

func (e *Engine) currentState() models.LifecycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// recordError persists last_error with its structured kind.
func (e *Engine) recordError(err error) {
	kind := Kind(err)
	if serr := e.state.SetError(kind, err.Error()); serr != nil {
		log.Printf("[Engine] Failed to persist error: %v", serr)
	}
	e.bus.Publish(events.Event{Type: events.TypeError, Message: err.Error(), Detail: map[string]interface{}{"kind": kind}})
	log.Printf("[Engine] %s: %v", kind, err)
}

// fail transitions to failed with a recorded error.
func (e *Engine) fail(err error) {
	e.recordError(err)
	e.state.SetOutcome(models.StateFailed)
	e.setState(models.StateFailed, 0)
}
