//go:build integration

package observability_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/storage"
	"github.com/rafaeljc/bifrost/internal/testsupport"
)

func TestServer_Integration(t *testing.T) {
	// 1. Infrastructure Setup
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	port := freePort(t)
	cfg := &config.ObservabilityConfig{
		Host:          "127.0.0.1",
		Port:          strconv.Itoa(port),
		Timeout:       time.Second,
		LivenessPath:  "/healthz",
		ReadinessPath: "/readyz",
		MetricsPath:   "/metrics",
	}

	// System Under Test (SUT)
	srv := observability.NewServer(nil, cfg, storage.NewHealthChecker(redisCtr.Client))
	srv.Start()
	defer func() { _ = srv.Shutdown(ctx) }()

	baseURL := "http://" + cfg.Address()
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + cfg.LivenessPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond, "server did not start")

	readiness := func(t *testing.T) (int, observability.ReadinessReport) {
		t.Helper()
		resp, err := http.Get(baseURL + cfg.ReadinessPath)
		require.NoError(t, err)
		defer resp.Body.Close()

		var report observability.ReadinessReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		return resp.StatusCode, report
	}

	// -------------------------------------------------------------------------
	// SCENARIO 1: Redis reachable
	// -------------------------------------------------------------------------
	t.Run("Should be ready while Redis answers", func(t *testing.T) {
		code, report := readiness(t)

		assert.Equal(t, http.StatusOK, code)
		assert.True(t, report.Ready)
		assert.Equal(t, observability.StatusUp, report.Checks["redis"].Status)
	})

	// -------------------------------------------------------------------------
	// SCENARIO 2: Redis stopped
	// -------------------------------------------------------------------------
	t.Run("Should report Redis down once the container stops", func(t *testing.T) {
		require.NoError(t, redisCtr.Container.Stop(ctx, nil))

		assert.Eventually(t, func() bool {
			code, report := readiness(t)
			return code == http.StatusServiceUnavailable && report.Checks["redis"].Status == observability.StatusDown
		}, 5*time.Second, 200*time.Millisecond)
	})
}

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
