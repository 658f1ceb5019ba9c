package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/robotailabs/ota-agent/internal/models"
)

// apply copies the verified downloaded files into their install destinations
// under the install root, marking executables. A file with no explicit
// destination installs at its manifest path.
func (e *Engine) apply(manifest *models.Manifest) error {
	downloadDir := e.cfg.DownloadDir()
	root := e.cfg.InstallRoot()

	for _, f := range manifest.Files {
		src := filepath.Join(downloadDir, filepath.FromSlash(strings.TrimPrefix(f.Path, "/")))

		dest, err := installPath(root, f)
		if err != nil {
			return err
		}
		if err := installFile(src, dest, f.Executable); err != nil {
			return fmt.Errorf("install %s: %w", f.Path, err)
		}
	}
	return nil
}

func installPath(root string, f models.ManifestFile) (string, error) {
	target := f.Destination
	if target == "" {
		target = f.Path
	}

	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(target, "/")))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("destination %q escapes install root", target)
	}
	return filepath.Join(root, clean), nil
}

func installFile(src, dest string, executable bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}

	// Write next to the target and rename, so a crash mid-copy never leaves a
	// truncated file at the install path.
	tmp := dest + ".new"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dest)
}
