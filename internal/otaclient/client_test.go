package otaclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robotailabs/ota-agent/internal/models"
)

// instantTimer fires backoff delays immediately so retry tests run without
// real sleeps.
type instantTimer struct {
	c chan time.Time
}

func (t *instantTimer) Start(time.Duration) {
	if t.c == nil {
		t.c = make(chan time.Time, 1)
	}
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func newTestClient(serverURL string, maxAttempts int) *Client {
	return &Client{
		http:        &http.Client{Timeout: 5 * time.Second},
		baseURL:     strings.TrimSuffix(serverURL, "/"),
		productType: "robot_ai",
		deviceID:    "TEST-DEVICE",
		simulation:  true,
		maxAttempts: maxAttempts,
		baseDelay:   time.Millisecond,
		maxDelay:    time.Millisecond,
		parallel:    2,
		timer:       &instantTimer{},
	}
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestFetchManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/manifest/latest" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{
			"version": "1.1.0",
			"severity": "critical",
			"release_notes": "fixes",
			"files": [{"path": "packages/core.bin", "size": 4, "checksum": "abcd"}],
			"checksum": "ef01"
		}`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)

	manifest, err := client.FetchManifest(context.Background())
	if err != nil {
		t.Fatalf("failed to fetch manifest: %v", err)
	}

	if manifest.Version != "1.1.0" {
		t.Errorf("expected version '1.1.0', got %q", manifest.Version)
	}
	if manifest.Severity != models.SeverityCritical {
		t.Errorf("expected critical severity, got %q", manifest.Severity)
	}
	if len(manifest.Files) != 1 || manifest.Files[0].Path != "packages/core.bin" {
		t.Errorf("unexpected files %+v", manifest.Files)
	}
}

func TestFetchManifestDefaultSeverity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version": "1.0.1", "files": []}`)
	}))
	defer srv.Close()

	manifest, err := newTestClient(srv.URL, 1).FetchManifest(context.Background())
	if err != nil {
		t.Fatalf("failed to fetch manifest: %v", err)
	}
	if manifest.Severity != models.SeverityNormal {
		t.Errorf("expected default severity 'normal', got %q", manifest.Severity)
	}
}

func TestFetchManifestRetriesTransient(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"version": "1.2.0"}`)
	}))
	defer srv.Close()

	manifest, err := newTestClient(srv.URL, 5).FetchManifest(context.Background())
	if err != nil {
		t.Fatalf("expected retries to succeed: %v", err)
	}
	if manifest.Version != "1.2.0" {
		t.Errorf("expected version '1.2.0', got %q", manifest.Version)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestFetchManifestExhaustsRetries(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchManifest(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestFetchManifestMalformedNotRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{not json`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 5).FetchManifest(context.Background())
	if !errors.Is(err, ErrManifestInvalid) {
		t.Fatalf("expected ErrManifestInvalid, got %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("malformed manifest must not be retried, got %d requests", got)
	}
}

func TestFetchManifestMissingVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"release_notes": "no version field"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 1).FetchManifest(context.Background())
	if !errors.Is(err, ErrManifestInvalid) {
		t.Fatalf("expected ErrManifestInvalid, got %v", err)
	}
}

func TestFetchManifestClientErrorNotRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 5).FetchManifest(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("4xx must not be retried, got %d requests", got)
	}
}

func TestDownloadFile(t *testing.T) {
	content := []byte("firmware payload bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/packages/core.bin" {
			w.Write(content)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	destDir := t.TempDir()
	rec := &models.DownloadRecord{
		Path:             "packages/core.bin",
		ExpectedChecksum: checksumOf(content),
		Status:           models.DownloadPending,
	}

	if err := newTestClient(srv.URL, 3).DownloadFile(context.Background(), rec, destDir); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	if rec.Status != models.DownloadVerified {
		t.Errorf("expected status verified, got %q", rec.Status)
	}
	if rec.BytesReceived != int64(len(content)) {
		t.Errorf("expected %d bytes received, got %d", len(content), rec.BytesReceived)
	}

	data, err := os.ReadFile(filepath.Join(destDir, "packages", "core.bin"))
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(data) != string(content) {
		t.Error("downloaded content does not match")
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("corrupted bytes"))
	}))
	defer srv.Close()

	destDir := t.TempDir()
	rec := &models.DownloadRecord{
		Path:             "packages/core.bin",
		ExpectedChecksum: checksumOf([]byte("the real bytes")),
	}

	err := newTestClient(srv.URL, 5).DownloadFile(context.Background(), rec, destDir)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("checksum mismatch must not be retried, got %d requests", got)
	}
	if rec.Status != models.DownloadFailed {
		t.Errorf("expected status failed, got %q", rec.Status)
	}

	// The partial file must have been discarded.
	if _, err := os.Stat(filepath.Join(destDir, "packages", "core.bin")); !os.IsNotExist(err) {
		t.Error("expected destination file to be absent")
	}
	if _, err := os.Stat(filepath.Join(destDir, "packages", "core.bin.part")); !os.IsNotExist(err) {
		t.Error("expected partial file to be discarded")
	}
}

func TestDownloadRetriesTransient(t *testing.T) {
	content := []byte("eventually served")
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 2 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		w.Write(content)
	}))
	defer srv.Close()

	rec := &models.DownloadRecord{
		Path:             "f.bin",
		ExpectedChecksum: checksumOf(content),
	}

	if err := newTestClient(srv.URL, 3).DownloadFile(context.Background(), rec, t.TempDir()); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if rec.AttemptCount != 2 {
		t.Errorf("expected 2 attempts, got %d", rec.AttemptCount)
	}
}

func TestDownloadAll(t *testing.T) {
	files := map[string][]byte{
		"a.bin": []byte("aaaa"),
		"b.bin": []byte("bbbb"),
		"c.bin": []byte("cccc"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	var recs []*models.DownloadRecord
	for name, data := range files {
		recs = append(recs, &models.DownloadRecord{
			Path:             name,
			ExpectedChecksum: checksumOf(data),
		})
	}

	var progressCalls atomic.Int64
	err := newTestClient(srv.URL, 3).DownloadAll(context.Background(), recs, t.TempDir(), func(done, total int) {
		progressCalls.Add(1)
		if total != len(files) {
			t.Errorf("expected total %d, got %d", len(files), total)
		}
	})
	if err != nil {
		t.Fatalf("DownloadAll failed: %v", err)
	}

	if got := progressCalls.Load(); got != int64(len(files)) {
		t.Errorf("expected %d progress calls, got %d", len(files), got)
	}
	for _, rec := range recs {
		if rec.Status != models.DownloadVerified {
			t.Errorf("expected %s verified, got %q", rec.Path, rec.Status)
		}
	}
}

func TestConnectivityIndependentProbes(t *testing.T) {
	// Server with no ping endpoint but a valid manifest: reachability fails,
	// manifest succeeds, download probe falls back to ping and fails too.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/manifest/latest" {
			fmt.Fprint(w, `{"version": "1.0.0"}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	result := newTestClient(srv.URL, 1).TestConnectivity(context.Background())
	if result.NetworkReachable {
		t.Error("expected network probe to fail")
	}
	if !result.ManifestFetchable {
		t.Error("expected manifest probe to succeed")
	}
	if result.Downloadable {
		t.Error("expected download probe to fail")
	}
	if result.Detail == "" {
		t.Error("expected failure detail to be populated")
	}
}

func TestConnectivityAllUp(t *testing.T) {
	payload := []byte("probe")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			fmt.Fprint(w, "pong")
		case "/manifest/latest":
			fmt.Fprintf(w, `{"version": "1.0.0", "files": [{"path": "p.bin", "size": 5, "checksum": "%s"}]}`, checksumOf(payload))
		case "/p.bin":
			w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	result := newTestClient(srv.URL, 1).TestConnectivity(context.Background())
	if !result.NetworkReachable || !result.ManifestFetchable || !result.Downloadable {
		t.Errorf("expected all probes up, got %+v", result)
	}
}

func TestReportStatus(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL, 1).ReportStatus(context.Background(), "1.1.0", "success", "done"); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if gotPath != "/report" {
		t.Errorf("expected POST /report, got %q", gotPath)
	}
}
