package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/kilo-gateway/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Kilo API Gateway - a reverse proxy and admission controller",
	Long: `Kilo is a reverse proxy that routes requests to backend services by
path prefix, gates protected routes behind revocable admin tokens, and
streams both request and response bodies without buffering large payloads.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokensCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}

// exitCode lets a command signal a specific process exit code (spec.md §6:
// 0 clean, 1 config error, 2 persistence-store-open failure) while still
// using cobra's RunE error-reporting path.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }
func (e *exitCode) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if ec, ok := err.(*exitCode); ok {
		return ec.code
	}
	return 1
}
