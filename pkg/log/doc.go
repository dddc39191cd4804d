/*
Package log provides structured logging for polisd using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all polisd packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs (e.g. "runtime", "ipam")
  - WithContainerID: Add container_id context
  - WithImageRef: Add image reference context
  - WithRequestID: Add request_id context (API middleware)

# Usage

	import "github.com/polisproject/polisd/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("polisd starting")

	runtimeLog := log.WithComponent("runtime")
	runtimeLog.Info().
		Str("container_id", id.String()).
		Msg("container started")

	log.Logger.Error().
		Err(err).
		Str("component", "runtime").
		Msg("failed to start container")

# Security

Never log secrets or sensitive data: redact tokens, passwords, and API
keys before they reach a log call. Use structured fields (.Str, .Int)
rather than string concatenation so user-controlled values cannot be
mistaken for log structure.
*/
package log
