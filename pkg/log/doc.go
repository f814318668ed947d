/*
Package log provides structured logging for robocap using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Usage

Initialize once in main, then derive child loggers per component:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("record")
	logger.Info().Int("fps", 30).Msg("record loop started")

Child helpers exist for the fields that recur across the codebase:
WithComponent, WithNode, WithEpisode, WithRepo.

The console writer is used for interactive sessions and prints
wall-clock time at millisecond resolution, matching the tick scale of
the recording loop; durations are logged as integer milliseconds for
the same reason. Set JSONOutput for machine-consumed logs (headless
runs).
*/
package log
