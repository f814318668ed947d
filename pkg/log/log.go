package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance. The zero value is a no-op
	// logger, so packages may log before Init in tests.
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// ParseLevel maps a level name to a Level, tolerating case and
// whitespace. Unknown names fall back to info: a typo in a config file
// must not silence a capture session.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case DebugLevel:
		return DebugLevel
	case WarnLevel:
		return WarnLevel
	case ErrorLevel:
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Config holds logging configuration
type Config struct {
	Level Level
	// JSONOutput selects machine-consumed output. Sessions default to
	// the console writer; headless runs set JSON (the --log-json flag).
	// Output defaults to stdout, which the coordinator subprocess
	// shares with the CLI.
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Durations here are tick-scale (a period is 33ms); integer
	// milliseconds keep overrun and save-latency fields readable.
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		// The operator reads this live at the bench during a session;
		// wall-clock time with millisecond resolution is what lines up
		// against frame indices, full dates are noise.
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05.000",
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNode creates a child logger with node field
func WithNode(node string) zerolog.Logger {
	return Logger.With().Str("node", node).Logger()
}

// WithEpisode creates a child logger with episode_index field
func WithEpisode(episode int) zerolog.Logger {
	return Logger.With().Int("episode_index", episode).Logger()
}

// WithRepo creates a child logger with repo_id field
func WithRepo(repoID string) zerolog.Logger {
	return Logger.With().Str("repo_id", repoID).Logger()
}
