package otaclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/robotailabs/ota-agent/internal/integrity"
	"github.com/robotailabs/ota-agent/internal/models"
	"golang.org/x/sync/errgroup"
)

// DownloadFile fetches one file into destDir, hashing the byte stream
// incrementally and verifying it against the record's expected checksum
// before the file is renamed into place. A checksum mismatch discards the
// partial file and is terminal; transport failures are retried.
func (c *Client) DownloadFile(ctx context.Context, rec *models.DownloadRecord, destDir string) error {
	url := c.baseURL + "/" + strings.TrimPrefix(rec.Path, "/")
	dest := filepath.Join(destDir, filepath.FromSlash(strings.TrimPrefix(rec.Path, "/")))

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	rec.Status = models.DownloadInProgress

	err := c.retry(ctx, func() error {
		rec.AttemptCount++
		return c.downloadOnce(ctx, url, dest, rec)
	})
	if err != nil {
		rec.Status = models.DownloadFailed
		return err
	}

	rec.Status = models.DownloadVerified
	log.Printf("[OTAClient] Downloaded and verified %s (%d bytes, %d attempts)",
		rec.Path, rec.BytesReceived, rec.AttemptCount)
	return nil
}

func (c *Client) downloadOnce(ctx context.Context, url, dest string, rec *models.DownloadRecord) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	part := dest + ".part"
	out, err := os.Create(part)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create %s: %w", part, err))
	}

	hash := sha256.New()
	n, err := io.Copy(out, io.TeeReader(body, hash))
	rec.BytesReceived = n
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return fmt.Errorf("%w: read %s: %v", ErrNetwork, url, err)
	}

	actual := hex.EncodeToString(hash.Sum(nil))
	if !integrity.ChecksumsEqual(actual, rec.ExpectedChecksum) {
		os.Remove(part)
		return backoff.Permanent(fmt.Errorf("%w: %s: expected %s, got %s",
			ErrChecksumMismatch, rec.Path, rec.ExpectedChecksum, actual))
	}

	return os.Rename(part, dest)
}

// DownloadAll transfers every record with bounded parallelism. The first
// terminal failure cancels the remaining transfers. progress, if non-nil, is
// called with (completed, total) after each verified file.
func (c *Client) DownloadAll(ctx context.Context, recs []*models.DownloadRecord, destDir string, progress func(done, total int)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency())

	var done atomic.Int64
	total := len(recs)

	for _, rec := range recs {
		g.Go(func() error {
			if err := c.DownloadFile(ctx, rec, destDir); err != nil {
				return err
			}
			if progress != nil {
				progress(int(done.Add(1)), total)
			}
			return nil
		})
	}

	return g.Wait()
}

func (c *Client) concurrency() int {
	if c.parallel > 0 {
		return c.parallel
	}
	return 2
}

// CleanupPartial removes leftover .part files after a cancelled or failed
// download cycle.
func CleanupPartial(destDir string) {
	filepath.Walk(destDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && strings.HasSuffix(path, ".part") {
			if rerr := os.Remove(path); rerr != nil {
				log.Printf("[OTAClient] Failed to remove partial file %s: %v", path, rerr)
			}
		}
		return nil
	})
}
