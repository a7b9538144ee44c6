package syncer_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rafaeljc/bifrost/internal/syncer"
	"github.com/rafaeljc/bifrost/internal/testsupport"
)

func TestSyncer_Metrics(t *testing.T) {
	// Metrics are global (Prometheus registry): run serially.
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "definitions.json")
	writeSnapshot(t, path, snapshotV1, time.Now().Add(-time.Hour))
	svc := syncer.New(nil, syncer.Config{Path: path}, &countingLoader{})

	t.Run("counts reloads", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "bifrost_syncer_cycles_total", map[string]string{"status": "reloaded"}, 1, func() {
			_, _ = svc.Sync(ctx)
		})
	})

	t.Run("counts unchanged cycles", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "bifrost_syncer_cycles_total", map[string]string{"status": "unchanged"}, 1, func() {
			_, _ = svc.Sync(ctx)
		})
	})

	t.Run("counts reloads from the polling loop", func(t *testing.T) {
		polled := filepath.Join(t.TempDir(), "definitions.json")
		writeSnapshot(t, polled, snapshotV1, time.Now().Add(-time.Hour))
		runner := syncer.New(nil, syncer.Config{Path: polled, Interval: time.Second}, &countingLoader{})

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		testsupport.AssertMetricDeltaEventually(t, "bifrost_syncer_cycles_total", map[string]string{"status": "reloaded"}, 1, func() {
			go runner.Run(runCtx)
		})
	})

	t.Run("counts failures", func(t *testing.T) {
		broken := syncer.New(nil, syncer.Config{Path: filepath.Join(t.TempDir(), "missing.json")}, &countingLoader{})

		testsupport.AssertMetricDelta(t, "bifrost_syncer_cycles_total", map[string]string{"status": "fail"}, 1, func() {
			_, _ = broken.Sync(ctx)
		})
	})
}
