package engine

import (
	"errors"

	"github.com/robotailabs/ota-agent/internal/backup"
	"github.com/robotailabs/ota-agent/internal/otaclient"
)

// Kind maps an error to its structured kind for the control surface.
func Kind(err error) string {
	switch {
	case errors.Is(err, otaclient.ErrChecksumMismatch):
		return KindChecksumMismatch
	case errors.Is(err, otaclient.ErrManifestInvalid):
		return KindManifestInvalid
	case errors.Is(err, otaclient.ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrSignatureInvalid):
		return KindSignatureInvalid
	case errors.Is(err, backup.ErrDiskSpace):
		return KindDiskSpace
	case errors.Is(err, backup.ErrVerification), errors.Is(err, errBackup):
		return KindBackupFailed
	case errors.Is(err, ErrNoBackup), errors.Is(err, errRestore):
		return KindRestoreFailed
	case errors.Is(err, errApply):
		return KindInstallApply
	case errors.Is(err, errValidation):
		return KindValidationFailed
	default:
		return "InternalError"
	}
}

var (
	errBackup     = errors.New("backup failed")
	errApply      = errors.New("install apply failed")
	errValidation = errors.New("post-install validation failed")
	errRestore    = errors.New("restore failed")
)
