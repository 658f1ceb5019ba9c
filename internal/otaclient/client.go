// Package otaclient is the HTTP client for the update server: manifest
// fetches, verified file downloads, connectivity probes, and status reports.
package otaclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robotailabs/ota-agent/internal/config"
	"github.com/robotailabs/ota-agent/internal/models"
	"github.com/robotailabs/ota-agent/internal/validation"
)

var (
	// ErrManifestInvalid marks a malformed manifest or one missing required
	// fields. Terminal for the check cycle, never retried.
	ErrManifestInvalid = errors.New("manifest invalid")

	// ErrChecksumMismatch marks a downloaded file whose digest does not match
	// the manifest. Terminal for that file, never retried.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNetwork marks a transport-level failure. Transient forms are retried
	// internally; this surfaces only once the retry ceiling is exhausted.
	ErrNetwork = errors.New("network error")
)

// Client talks to the OTA update server. It is stateless across calls; all
// transfer state lives in the DownloadRecords passed in.
type Client struct {
	http        *http.Client
	baseURL     string
	productType string
	deviceID    string
	simulation  bool
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	parallel    int

	// timer overrides the backoff delay source. Nil means real time; tests
	// inject an immediate timer.
	timer backoff.Timer
}

// New builds a client from config. Simulation mode routes to the simulation
// server and its manifest path layout.
func New(cfg *config.Config) *Client {
	return &Client{
		http:        &http.Client{Timeout: cfg.Download.GetTimeout()},
		baseURL:     strings.TrimSuffix(cfg.ServerURL(), "/"),
		productType: cfg.Device.ProductType,
		deviceID:    cfg.Device.DeviceID,
		simulation:  cfg.Simulation.Enabled,
		maxAttempts: cfg.Download.MaxAttempts,
		baseDelay:   cfg.Download.GetBaseDelay(),
		maxDelay:    cfg.Download.GetMaxDelay(),
		parallel:    cfg.Download.Concurrency,
	}
}

func (c *Client) manifestURL() string {
	if c.simulation {
		return c.baseURL + "/manifest/latest"
	}
	return fmt.Sprintf("%s/%s/manifest.json", c.baseURL, c.productType)
}

// retry runs op with exponential backoff and jitter: base * 2^attempt capped
// at maxDelay, up to maxAttempts tries. op returns backoff.Permanent for
// terminal failures.
func (c *Client) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.MaxInterval = c.maxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1)), ctx)

	notify := func(err error, next time.Duration) {
		log.Printf("[OTAClient] Transient failure, retrying in %v: %v", next, err)
	}

	return backoff.RetryNotifyWithTimer(op, b, notify, c.timer)
}

// FetchManifest fetches and validates the latest update manifest. Transport
// failures are retried per the client retry policy; a malformed manifest is
// terminal for this check cycle.
func (c *Client) FetchManifest(ctx context.Context) (*models.Manifest, error) {
	url := c.manifestURL()

	var manifest *models.Manifest
	err := c.retry(ctx, func() error {
		body, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		defer body.Close()

		m, err := decodeManifest(body)
		if err != nil {
			return backoff.Permanent(err)
		}

		manifest = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[OTAClient] Fetched manifest: version=%s severity=%s files=%d",
		manifest.Version, manifest.Severity, len(manifest.Files))
	return manifest, nil
}

// get issues a single GET, classifying the response: transport errors and
// 5xx are retryable, 4xx is terminal.
func (c *Client) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrNetwork, err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrNetwork, url, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", ErrNetwork, url, resp.StatusCode)
	default:
		resp.Body.Close()
		return nil, backoff.Permanent(fmt.Errorf("%w: GET %s: HTTP %d", ErrNetwork, url, resp.StatusCode))
	}
}

func decodeManifest(r io.Reader) (*models.Manifest, error) {
	var m models.Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func validateManifest(m *models.Manifest) error {
	if m.Version == "" {
		return fmt.Errorf("%w: missing version", ErrManifestInvalid)
	}
	if m.Severity == "" {
		m.Severity = models.SeverityNormal
	}
	if !m.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrManifestInvalid, m.Severity)
	}
	for i, f := range m.Files {
		if f.Path == "" {
			return fmt.Errorf("%w: file %d missing path", ErrManifestInvalid, i)
		}
		if err := validation.PackagePath(f.Path); err != nil {
			return fmt.Errorf("%w: file path %q: %v", ErrManifestInvalid, f.Path, err)
		}
		if f.Destination != "" {
			if err := validation.PackagePath(strings.TrimPrefix(f.Destination, "/")); err != nil {
				return fmt.Errorf("%w: destination %q: %v", ErrManifestInvalid, f.Destination, err)
			}
		}
		if f.Checksum == "" {
			return fmt.Errorf("%w: file %q missing checksum", ErrManifestInvalid, f.Path)
		}
		if err := validation.HexDigest(f.Checksum); err != nil {
			return fmt.Errorf("%w: checksum for %q: %v", ErrManifestInvalid, f.Path, err)
		}
	}
	return nil
}
