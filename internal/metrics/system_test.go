package metrics_test

import (
	"context"
	"testing"

	"github.com/robotailabs/ota-agent/internal/metrics"
)

func TestCollectorSnapshot(t *testing.T) {
	c := metrics.NewCollector(t.TempDir())

	snap := c.Collect(context.Background())
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if snap.Timestamp.IsZero() {
		t.Error("expected timestamp set")
	}
	if snap.CPU.Cores <= 0 {
		t.Errorf("expected positive core count, got %d", snap.CPU.Cores)
	}
	if snap.Memory.Total == 0 {
		t.Error("expected memory total populated")
	}
	if len(snap.Volumes) != 1 {
		t.Fatalf("expected 1 volume, got %d", len(snap.Volumes))
	}
	if snap.Volumes[0].Total == 0 {
		t.Error("expected volume size populated")
	}
}

func TestCollectorSkipsMissingPaths(t *testing.T) {
	c := metrics.NewCollector("/nonexistent/path/for/metrics")

	snap := c.Collect(context.Background())
	if len(snap.Volumes) != 0 {
		t.Errorf("expected missing path skipped, got %d volumes", len(snap.Volumes))
	}
}
