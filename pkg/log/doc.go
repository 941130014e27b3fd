/*
Package log provides structured logging for Authly using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

Authly's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("manager")                 │          │
	│  │  - WithInstanceID("<eid>")                  │          │
	│  │  - WithDirectoryID("<dir-id>")               │          │
	│  │  - WithEntityID("<eid>")                    │          │
	│  │  - WithServiceID("<svc-eid>")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "manager",                  │          │
	│  │    "time": "2026-07-31T10:30:00Z",         │          │
	│  │    "message": "directory applied"           │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-31T10:30:00Z INF directory applied component=manager │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Authly packages
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
  - WithComponent: Add component name to all logs
  - WithInstanceID: Add the local AuthlyInstance's entity ID
  - WithDirectoryID: Add directory ID context
  - WithEntityID: Add a generic (service or persona) entity ID
  - WithServiceID: Add service entity ID context

# Usage

Initializing the Logger:

	import "github.com/protojour/authly/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("instance bootstrapped")
	log.Debug("checking directory freshness")
	log.Warn("raft leader unknown")
	log.Error("failed to apply directory snapshot")
	log.Fatal("cannot start without master key") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("directory_id", dirID.String()).
		Int("services", len(svcs)).
		Msg("directory applied")

	log.Logger.Error().
		Err(err).
		Str("entity_id", eid.String()).
		Msg("access token verification failed")

Component Loggers:

	mgrLog := log.WithComponent("manager")
	mgrLog.Info().Msg("raft cluster bootstrapped")

	svcLog := log.WithServiceID(eid.String())
	svcLog.Info().Msg("certificate issued")

# Integration Points

This package integrates with:

  - pkg/manager: logs Raft cluster lifecycle and document apply outcomes
  - pkg/document: logs directory compile/apply results
  - pkg/auth: logs authentication and session events
  - pkg/api: logs gRPC request handling
  - pkg/reconcile: logs certificate rotation cycles

# Security

Log Content:
  - Never log secrets, private keys, DEKs, or bearer tokens
  - Redact credentials before logging error contexts
  - Prefer entity IDs over raw usernames/emails in log fields

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
