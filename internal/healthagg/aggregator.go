package healthagg

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/kilo-gateway/internal/metrics"
	"github.com/cuemby/kilo-gateway/internal/router"
	"github.com/cuemby/kilo-gateway/pkg/log"
)

// BackendStatus is one backend's entry in the /status summary (spec.md
// §4.4).
type BackendStatus struct {
	Service       string    `json:"service"`
	Reachable     bool      `json:"reachable"`
	LatencyMs     int64     `json:"latency_ms"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	Message       string    `json:"message,omitempty"`
}

// Aggregator probes every configured backend on an interval and serves the
// last known result without blocking on live probes, so a downed backend
// never makes /status itself fail (spec.md §4.4).
type Aggregator struct {
	interval time.Duration
	timeout  time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]BackendStatus
}

// New builds an Aggregator over routes, probing each route's base URL at
// interval with the given per-probe timeout.
func New(routes []router.ServiceRoute, interval, timeout time.Duration) *Aggregator {
	a := &Aggregator{
		interval: interval,
		timeout:  timeout,
		checkers: make(map[string]Checker, len(routes)),
		last:     make(map[string]BackendStatus, len(routes)),
	}
	for _, route := range routes {
		a.checkers[route.Name] = NewHTTPChecker(route.BaseURL, timeout)
		a.last[route.Name] = BackendStatus{Service: route.Name}
	}
	return a
}

// Run probes every backend once immediately, then again every interval,
// until ctx is cancelled. Intended to run in its own goroutine for the
// lifetime of the process.
func (a *Aggregator) Run(ctx context.Context) {
	a.probeAll(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.probeAll(ctx)
		}
	}
}

func (a *Aggregator) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, checker := range a.checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			result := checker.Check(probeCtx)
			status := BackendStatus{
				Service:       name,
				Reachable:     result.Healthy,
				LatencyMs:     result.Duration.Milliseconds(),
				LastCheckedAt: result.CheckedAt,
				Message:       result.Message,
			}

			a.mu.Lock()
			a.last[name] = status
			a.mu.Unlock()

			gauge := float64(0)
			if result.Healthy {
				gauge = 1
			}
			metrics.BackendReachable.WithLabelValues(name).Set(gauge)
			metrics.BackendProbeLatency.WithLabelValues(name).Set(float64(result.Duration.Milliseconds()))

			if !result.Healthy {
				log.WithService(name).Warn().Str("message", result.Message).Msg("backend probe failed")
			}
		}(name, checker)
	}
	wg.Wait()
}

// Snapshot returns the last known status of every backend.
func (a *Aggregator) Snapshot() []BackendStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]BackendStatus, 0, len(a.last))
	for _, status := range a.last {
		out = append(out, status)
	}
	return out
}
