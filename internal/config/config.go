// Package config loads the gateway's configuration from environment
// variables, following the GATEWAY_* naming convention and the
// per-backend GATEWAY_BACKEND_<NAME>_URL scanning described in
// SPEC_FULL.md §A.3.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/kilo-gateway/internal/proxy"
	"github.com/cuemby/kilo-gateway/internal/router"
)

// protectedBackends lists the services whose routes require a valid admin
// token on non-idempotent methods, per SPEC_FULL.md §C.1. "library" sits
// here deliberately: its write operations (returns, holds) carry side
// effects, but GET/HEAD/OPTIONS stay open — router.ServiceRoute.RequiresAuth
// is what actually applies the per-method exemption at request time.
var protectedBackends = map[string]bool{
	"library": true,
}

// Config is the gateway's fully-resolved runtime configuration.
type Config struct {
	ListenAddr     string
	TokenStorePath string
	ProbeInterval  time.Duration
	ProxyOptions   proxy.Options
	Routes         []router.ServiceRoute
}

// Load reads configuration from the process environment. It returns an
// error for any malformed value, so the caller can exit non-zero before
// attempting to open the listener (spec.md §6 exit code 1).
func Load() (*Config, error) {
	opts := proxy.DefaultOptions()

	var err error
	if v, ok := os.LookupEnv("GATEWAY_BUFFER_THRESHOLD_BYTES"); ok {
		if opts.BufferThreshold, err = parseInt64(v); err != nil {
			return nil, fmt.Errorf("GATEWAY_BUFFER_THRESHOLD_BYTES: %w", err)
		}
	}
	if v, ok := os.LookupEnv("GATEWAY_REQUEST_DEADLINE_SECS"); ok {
		secs, err := parseInt64(v)
		if err != nil {
			return nil, fmt.Errorf("GATEWAY_REQUEST_DEADLINE_SECS: %w", err)
		}
		opts.RequestDeadline = time.Duration(secs) * time.Second
	}

	probeInterval := 30 * time.Second
	if v, ok := os.LookupEnv("GATEWAY_PROBE_INTERVAL_SECS"); ok {
		secs, err := parseInt64(v)
		if err != nil {
			return nil, fmt.Errorf("GATEWAY_PROBE_INTERVAL_SECS: %w", err)
		}
		probeInterval = time.Duration(secs) * time.Second
	}

	listenAddr := os.Getenv("GATEWAY_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8000"
	}

	tokenStorePath := os.Getenv("GATEWAY_TOKEN_STORE_PATH")
	if tokenStorePath == "" {
		tokenStorePath = "."
	}

	routes, err := loadRoutes()
	if err != nil {
		return nil, err
	}

	return &Config{
		ListenAddr:     listenAddr,
		TokenStorePath: tokenStorePath,
		ProbeInterval:  probeInterval,
		ProxyOptions:   opts,
		Routes:         routes,
	}, nil
}

// loadRoutes scans the environment for GATEWAY_BACKEND_<NAME>_URL entries
// and builds the immutable ServiceRoute table from them.
func loadRoutes() ([]router.ServiceRoute, error) {
	const prefix = "GATEWAY_BACKEND_"
	const suffix = "_URL"

	names := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
			continue
		}
		rawName := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
		if rawName == "" {
			continue
		}
		if value == "" {
			return nil, fmt.Errorf("%s: empty backend URL", key)
		}
		names[strings.ToLower(rawName)] = value
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("no backends configured: set at least one GATEWAY_BACKEND_<NAME>_URL")
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	routes := make([]router.ServiceRoute, 0, len(ordered))
	for _, name := range ordered {
		routes = append(routes, router.ServiceRoute{
			Name:      name,
			BaseURL:   strings.TrimSuffix(names[name], "/"),
			Protected: protectedBackends[name],
		})
	}
	return routes, nil
}

func parseInt64(v string) (int64, error) {
	return strconv.ParseInt(v, 10, 64)
}
