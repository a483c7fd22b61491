/*
Package log provides structured logging for the gateway using zerolog.

It wraps zerolog to give JSON-structured logging with component-specific
child loggers, configurable severity levels, and helper functions for the
common case of an unstructured message.

Initialize once at process start:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Then either log directly:

	log.Info("gateway listening")
	log.Errorf("backend dial failed", err) // err is attached as the "error" field

or derive a child logger carrying context through a request's lifetime:

	reqLog := log.WithComponent("proxy").With().Str("request_id", id).Logger()
	reqLog.Warn().Str("service", route.Name).Msg("upstream returned 5xx")
*/
package log
