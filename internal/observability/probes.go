package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
)

// Component states reported by the readiness probe.
const (
	StatusUp   = "up"
	StatusDown = "down"
)

// CheckResult is the readiness outcome of one component.
type CheckResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// ReadinessReport is the body of the readiness probe.
type ReadinessReport struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckResult `json:"checks"`
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, "ok")
}

// readiness runs every checker concurrently under the configured timeout and
// answers 200 only when all of them pass.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	results := make([]CheckResult, len(s.checkers))
	var wg sync.WaitGroup
	for i, c := range s.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.runCheck(ctx, c)
		}()
	}
	wg.Wait()

	report := ReadinessReport{Ready: true, Checks: make(map[string]CheckResult, len(results))}
	for i, c := range s.checkers {
		report.Checks[c.Name()] = results[i]
		if results[i].Status != StatusUp {
			report.Ready = false
		}
	}

	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	render.Status(r, status)
	render.JSON(w, r, report)
}

func (s *Server) runCheck(ctx context.Context, c Checker) CheckResult {
	start := time.Now()
	err := c.Check(ctx)
	latency := time.Since(start).Round(time.Microsecond).String()

	if err != nil {
		// Warn only: the orchestrator probes again.
		s.logger.Warn("readiness check failed",
			slog.String("component", c.Name()),
			slog.String("error", err.Error()),
		)
		return CheckResult{Status: StatusDown, Error: err.Error(), Latency: latency}
	}
	return CheckResult{Status: StatusUp, Latency: latency}
}
