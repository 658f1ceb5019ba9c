// Package backup creates, verifies, rotates, and restores compressed
// snapshots of the installed tree.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robotailabs/ota-agent/internal/config"
	"github.com/robotailabs/ota-agent/internal/integrity"
	"github.com/robotailabs/ota-agent/internal/models"
	"github.com/robotailabs/ota-agent/internal/services"
	"github.com/shirou/gopsutil/v3/disk"
)

var (
	// ErrDiskSpace means the pre-flight free-space check failed. Raised before
	// any write happens.
	ErrDiskSpace = errors.New("insufficient disk space")

	// ErrVerification means a freshly written archive could not be re-read
	// consistently. The archive is discarded; it must never be relied on.
	ErrVerification = errors.New("backup verification failed")
)

// Manager snapshots and restores the installed tree. It holds no cross-call
// state; backup metadata lives in the BackupService.
type Manager struct {
	dir       string
	root      string
	locations []string
	excludes  []string
	deviceID  string
	retention int
	estimated int64
	headroom  int64
	store     *services.BackupService
}

func NewManager(cfg *config.Config, store *services.BackupService) *Manager {
	return &Manager{
		dir:       cfg.BackupDir(),
		root:      cfg.InstallRoot(),
		locations: cfg.BackupLocations(),
		excludes:  cfg.Backup.ExcludePatterns,
		deviceID:  cfg.Device.DeviceID,
		retention: cfg.Backup.RetentionCount,
		estimated: cfg.Backup.EstimatedSizeMB << 20,
		headroom:  cfg.Backup.HeadroomMB << 20,
		store:     store,
	}
}

// EstimatedBytes is the assumed snapshot size used by the disk pre-flight.
func (m *Manager) EstimatedBytes() int64 { return m.estimated }

// CheckDiskSpace fails fast when the free space on the backup volume cannot
// hold requiredBytes plus the configured headroom. It runs before any write
// so an update never dies mid-backup on a full disk.
func (m *Manager) CheckDiskSpace(requiredBytes int64) error {
	if err := os.MkdirAll(m.dir, 0750); err != nil {
		return err
	}

	usage, err := disk.Usage(m.dir)
	if err != nil {
		return fmt.Errorf("disk usage %s: %w", m.dir, err)
	}

	needed := uint64(requiredBytes + m.headroom)
	if usage.Free < needed {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrDiskSpace, needed, usage.Free)
	}
	return nil
}

// Create snapshots the install locations into a compressed archive, then
// independently re-reads and checksums the archive. Only a readable,
// consistent archive is recorded as verified; anything else is deleted.
func (m *Manager) Create(ctx context.Context, productType, version string) (*models.Backup, error) {
	if err := os.MkdirAll(m.dir, 0750); err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102_150405")
	name := fmt.Sprintf("%s_backup_%s_%s_%s.tar.gz", productType, version, m.deviceID, timestamp)
	path := filepath.Join(m.dir, name)

	log.Printf("[Backup] Creating backup at %s", path)

	if err := m.writeArchive(ctx, path); err != nil {
		os.Remove(path)
		return nil, err
	}

	entries, err := m.verifyArchive(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	checksum, err := integrity.ChecksumFile(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	b := &models.Backup{
		ID:                 uuid.New().String(),
		ProductType:        productType,
		VersionSnapshotted: version,
		Path:               path,
		SizeBytes:          info.Size(),
		Checksum:           checksum,
		Verified:           true,
		CreatedAt:          time.Now(),
	}
	if err := m.store.Record(b); err != nil {
		return nil, err
	}

	log.Printf("[Backup] Backup verified: %s (%d entries, %d bytes)", name, entries, b.SizeBytes)
	return b, nil
}

func (m *Manager) writeArchive(ctx context.Context, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	tw := tar.NewWriter(gzw)

	for _, location := range m.locations {
		if err := m.addLocation(ctx, tw, location); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gzw.Close(); err != nil {
		return err
	}
	return out.Sync()
}

func (m *Manager) addLocation(ctx context.Context, tw *tar.Writer, location string) error {
	if _, err := os.Stat(location); os.IsNotExist(err) {
		log.Printf("[Backup] Location %s does not exist, skipping", location)
		return nil
	}

	return filepath.Walk(location, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if m.excluded(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		rel, err := m.relativeToRoot(path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})
}

func (m *Manager) relativeToRoot(path string) (string, error) {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (m *Manager) excluded(name string) bool {
	for _, pattern := range m.excludes {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// verifyArchive re-reads the whole archive and returns the entry count. An
// unreadable or empty archive fails verification.
func (m *Manager) verifyArchive(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	entries := 0
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return 0, err
		}
		entries++
	}

	if entries == 0 {
		return 0, errors.New("archive is empty")
	}
	return entries, nil
}

// Restore extracts a verified backup over the install locations. This is the
// single destructive restore path; only the rollback controller calls it.
func (m *Manager) Restore(ctx context.Context, b *models.Backup) error {
	if !b.Verified {
		return fmt.Errorf("%w: backup %s is not verified", ErrVerification, b.ID)
	}

	if b.Checksum != "" {
		ok, err := integrity.VerifyFile(b.Path, b.Checksum)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: archive %s checksum changed on disk", ErrVerification, b.Path)
		}
	}

	f, err := os.Open(b.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", services.ErrBackupNotFound, b.Path)
		}
		return err
	}
	defer f.Close()

	// Clear the snapshot locations so files added after the backup do not
	// survive the restore.
	for _, location := range m.locations {
		if err := os.RemoveAll(location); err != nil {
			return err
		}
	}

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.extractEntry(header, tr); err != nil {
			return err
		}
	}

	log.Printf("[Backup] Restored backup %s (version %s)", b.ID, b.VersionSnapshotted)
	return nil
}

func (m *Manager) extractEntry(header *tar.Header, r io.Reader) error {
	name := filepath.Clean(filepath.FromSlash(header.Name))
	if name == ".." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) || filepath.IsAbs(name) {
		return fmt.Errorf("archive entry escapes root: %q", header.Name)
	}
	target := filepath.Join(m.root, name)

	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(header.Mode))
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode))
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	default:
		return nil
	}
}

// Rotate deletes the oldest verified backups beyond the retention count. It
// runs only after the newest backup has been confirmed verified, so the last
// good backup is never deleted speculatively.
func (m *Manager) Rotate(productType string) error {
	verified, err := m.store.ListVerified(productType)
	if err != nil {
		return err
	}

	for _, old := range verified[min(m.retention, len(verified)):] {
		log.Printf("[Backup] Rotating out old backup %s (%s)", old.ID, old.Path)
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := m.store.Delete(old.ID); err != nil {
			return err
		}
	}
	return nil
}
