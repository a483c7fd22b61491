package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/kilo-gateway/internal/admission"
	"github.com/cuemby/kilo-gateway/internal/config"
	"github.com/cuemby/kilo-gateway/internal/healthagg"
	"github.com/cuemby/kilo-gateway/internal/metrics"
	"github.com/cuemby/kilo-gateway/internal/proxy"
	"github.com/cuemby/kilo-gateway/internal/router"
	"github.com/cuemby/kilo-gateway/internal/tokenstore"
	"github.com/cuemby/kilo-gateway/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway's HTTP listener",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return &exitCode{code: 1, err: fmt.Errorf("load config: %w", err)}
	}

	store, err := tokenstore.Open(cfg.TokenStorePath)
	if err != nil {
		return &exitCode{code: 2, err: fmt.Errorf("open token store: %w", err)}
	}
	defer store.Close()

	admissionSvc := admission.New(store)
	routes := router.New(cfg.Routes)
	admissionHandler := admission.NewHandler(admissionSvc)

	httpClient := proxy.NewHTTPClient(cfg.ProxyOptions)
	engine := proxy.New(routes, admissionSvc, httpClient, cfg.ProxyOptions)

	aggregator := healthagg.New(cfg.Routes, cfg.ProbeInterval, 2*time.Second)
	healthHandler := healthagg.NewHandler(aggregator)

	mux := http.NewServeMux()
	admissionHandler.Register(mux)
	healthHandler.Register(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", engine)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      recoverMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // response streaming may run longer than the request deadline alone would allow
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go aggregator.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("gateway listening on %s", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		return &exitCode{code: 1, err: fmt.Errorf("listen: %w", err)}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return &exitCode{code: 1, err: fmt.Errorf("shutdown: %w", err)}
	}

	log.Info("shutdown complete")
	return nil
}

// recoverMiddleware converts a panic in any handler into a 500
// GatewayInternalError instead of crashing the listener goroutine
// (SPEC_FULL.md §A.2).
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Logger.Error().Str("stack", string(debug.Stack())).Msg(fmt.Sprintf("panic handling %s %s: %v", r.Method, r.URL.Path, rec))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
