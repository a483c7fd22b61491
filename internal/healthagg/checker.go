// Package healthagg implements the Health Aggregator (spec.md §4.4):
// an always-200 liveness probe at /health, and an asynchronously-probed
// backend status summary at /status.
//
// Grounded on the teacher's pkg/health package: the Checker interface and
// Result type are carried near-unchanged from pkg/health/health.go, and
// the HTTP-probing checker is adapted from pkg/health/http.go. The
// teacher's tcp.go and exec.go checkers have no analog — backends here are
// always HTTP services reachable by URL (spec.md §1), never bare TCP
// services or local processes — and are dropped (see DESIGN.md).
package healthagg

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Result is the outcome of a single probe.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker performs one probe against a backend.
type Checker interface {
	Check(ctx context.Context) Result
}

// HTTPChecker probes a backend's /status endpoint over HTTP, adapted from
// the teacher's pkg/health/http.go HTTPChecker.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker builds a checker for baseURL + "/status" with the given
// per-probe timeout (spec.md §4.4 default 2s).
func NewHTTPChecker(baseURL string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		URL:    baseURL + "/status",
		Client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("build request: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("request failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 400
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))

	return Result{Healthy: healthy, Message: message, CheckedAt: start, Duration: time.Since(start)}
}
