package otaclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/robotailabs/ota-agent/internal/models"
)

// TestConnectivity probes the server three ways: raw reachability, manifest
// fetchability, and file downloadability. Each probe runs even if an earlier
// one failed, so a diagnosis can distinguish "no network" from "server up
// but serving a broken manifest".
func (c *Client) TestConnectivity(ctx context.Context) models.ConnectivityResult {
	var result models.ConnectivityResult
	var detail []string

	if err := c.ping(ctx); err != nil {
		detail = append(detail, fmt.Sprintf("ping: %v", err))
	} else {
		result.NetworkReachable = true
	}

	manifest, err := c.fetchManifestOnce(ctx)
	if err != nil {
		detail = append(detail, fmt.Sprintf("manifest: %v", err))
	} else {
		result.ManifestFetchable = true
	}

	if err := c.probeDownload(ctx, manifest); err != nil {
		detail = append(detail, fmt.Sprintf("download: %v", err))
	} else {
		result.Downloadable = true
	}

	for i, d := range detail {
		if i > 0 {
			result.Detail += "; "
		}
		result.Detail += d
	}
	return result
}

func (c *Client) ping(ctx context.Context) error {
	body, err := c.get(ctx, c.baseURL+"/ping")
	if err != nil {
		return err
	}
	body.Close()
	return nil
}

// fetchManifestOnce fetches without the retry loop; connectivity checks want
// a fast answer, not an exhausted backoff.
func (c *Client) fetchManifestOnce(ctx context.Context) (*models.Manifest, error) {
	body, err := c.get(ctx, c.manifestURL())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	m, err := decodeManifest(body)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// probeDownload reads the first declared file, discarding the bytes. With no
// manifest (or an empty one) it falls back to the ping endpoint so the
// download path is still exercised independently.
func (c *Client) probeDownload(ctx context.Context, manifest *models.Manifest) error {
	url := c.baseURL + "/ping"
	if manifest != nil && len(manifest.Files) > 0 {
		url = c.baseURL + "/" + manifest.Files[0].Path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
