package backup_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robotailabs/ota-agent/internal/backup"
	"github.com/robotailabs/ota-agent/internal/config"
	"github.com/robotailabs/ota-agent/internal/database"
	"github.com/robotailabs/ota-agent/internal/models"
	"github.com/robotailabs/ota-agent/internal/services"
)

func setupManager(t *testing.T) (*backup.Manager, *services.BackupService, *config.Config) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db := &database.DB{DB: sqlDB}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg.Simulation.Enabled = true
	cfg.Simulation.Root = t.TempDir()
	cfg.Device.DeviceID = "dev123"

	store := services.NewBackupService(db)
	return backup.NewManager(cfg, store), store, cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("failed to mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

func TestManager_CreateAndRestore(t *testing.T) {
	mgr, _, cfg := setupManager(t)
	root := cfg.InstallRoot()

	writeFile(t, filepath.Join(root, "opt/robot-ai/bin/agent"), "binary-v1")
	writeFile(t, filepath.Join(root, "opt/robot-ai/data/model.bin"), "weights")
	writeFile(t, filepath.Join(root, "etc/robot-ai/agent.conf"), "setting=1")
	writeFile(t, filepath.Join(root, "opt/robot-ai/debug.log"), "should be excluded")

	b, err := mgr.Create(context.Background(), "robot_ai", "1.0.0")
	if err != nil {
		t.Fatalf("failed to create backup: %v", err)
	}
	if !b.Verified {
		t.Error("expected freshly created backup to be verified")
	}
	if b.SizeBytes == 0 {
		t.Error("expected non-zero archive size")
	}
	if _, err := os.Stat(b.Path); err != nil {
		t.Fatalf("expected archive on disk: %v", err)
	}

	base := filepath.Base(b.Path)
	want := "robot_ai_backup_1.0.0_dev123_"
	if len(base) < len(want) || base[:len(want)] != want {
		t.Errorf("unexpected archive name %q", base)
	}

	// Mutate the tree, then restore and confirm every byte came back.
	writeFile(t, filepath.Join(root, "opt/robot-ai/bin/agent"), "binary-v2-corrupt")
	writeFile(t, filepath.Join(root, "opt/robot-ai/bin/newfile"), "added after backup")

	if err := mgr.Restore(context.Background(), b); err != nil {
		t.Fatalf("failed to restore backup: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "opt/robot-ai/bin/agent"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if string(got) != "binary-v1" {
		t.Errorf("expected original content restored, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "opt/robot-ai/bin/newfile")); !os.IsNotExist(err) {
		t.Error("expected file added after backup to be removed by restore")
	}
	if _, err := os.Stat(filepath.Join(root, "opt/robot-ai/debug.log")); !os.IsNotExist(err) {
		t.Error("expected excluded log file absent from restored tree")
	}

	conf, _ := os.ReadFile(filepath.Join(root, "etc/robot-ai/agent.conf"))
	if string(conf) != "setting=1" {
		t.Errorf("expected config restored, got %q", conf)
	}
}

func TestManager_RestoreRejectsUnverified(t *testing.T) {
	mgr, _, _ := setupManager(t)

	err := mgr.Restore(context.Background(), &models.Backup{ID: "b1", Path: "/nope.tar.gz", Verified: false})
	if err == nil {
		t.Fatal("expected error restoring unverified backup")
	}
}

func TestManager_RestoreMissingArchive(t *testing.T) {
	mgr, _, _ := setupManager(t)

	err := mgr.Restore(context.Background(), &models.Backup{ID: "b1", Path: "/nonexistent.tar.gz", Verified: true})
	if err == nil {
		t.Fatal("expected error restoring missing archive")
	}
}

func TestManager_Rotate(t *testing.T) {
	mgr, store, cfg := setupManager(t)
	root := cfg.InstallRoot()
	writeFile(t, filepath.Join(root, "opt/robot-ai/bin/agent"), "binary")

	backupDir := cfg.BackupDir()
	if err := os.MkdirAll(backupDir, 0750); err != nil {
		t.Fatalf("failed to mkdir: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	mkArchive := func(id string, offset time.Duration, verified bool) string {
		path := filepath.Join(backupDir, id+".tar.gz")
		writeFile(t, path, "archive "+id)
		err := store.Record(&models.Backup{
			ID:                 id,
			ProductType:        "robot_ai",
			VersionSnapshotted: "1.0.0",
			Path:               path,
			Verified:           verified,
			CreatedAt:          base.Add(offset),
		})
		if err != nil {
			t.Fatalf("failed to record backup: %v", err)
		}
		return path
	}

	oldest := mkArchive("old1", 0, true)
	mkArchive("old2", time.Minute, true)
	mkArchive("old3", 2*time.Minute, true)
	unverified := mkArchive("pending", 3*time.Minute, false)

	if err := mgr.Rotate("robot_ai"); err != nil {
		t.Fatalf("failed to rotate: %v", err)
	}

	// Retention is 2: only the single oldest verified backup goes.
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("expected oldest verified archive removed")
	}
	verified, _ := store.ListVerified("robot_ai")
	if len(verified) != 2 {
		t.Fatalf("expected 2 verified backups after rotation, got %d", len(verified))
	}
	if verified[0].ID != "old3" || verified[1].ID != "old2" {
		t.Errorf("unexpected survivors %q, %q", verified[0].ID, verified[1].ID)
	}

	// Unverified backups never count toward retention and are never rotated.
	if _, err := os.Stat(unverified); err != nil {
		t.Errorf("expected unverified archive untouched: %v", err)
	}
}

func TestManager_CheckDiskSpace(t *testing.T) {
	mgr, _, _ := setupManager(t)

	if err := mgr.CheckDiskSpace(1); err != nil {
		t.Errorf("expected tiny requirement to pass: %v", err)
	}
	if err := mgr.CheckDiskSpace(1 << 50); err == nil {
		t.Error("expected petabyte requirement to fail")
	}
}

func TestManager_CreateSkipsMissingLocations(t *testing.T) {
	mgr, _, cfg := setupManager(t)
	root := cfg.InstallRoot()

	// Only one of the two default locations exists.
	writeFile(t, filepath.Join(root, "opt/robot-ai/bin/agent"), "binary")

	b, err := mgr.Create(context.Background(), "robot_ai", "1.0.0")
	if err != nil {
		t.Fatalf("failed to create backup: %v", err)
	}
	if !b.Verified {
		t.Error("expected backup verified")
	}
}
