/*
Package log provides structured logging for the megakernel core using
zerolog. It mirrors the wrapper pattern used across the wider simulation
stack: a package-level logger initialized once via Init, and
WithComponent child loggers that tag every event with the subsystem
that produced it (alloc, entitystore, host, taskgraph).
*/
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Level mirrors zerolog's severity levels under the core's own name, so
// callers don't need to import zerolog directly just to configure Init.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls the global logger's verbosity and output.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init (re)configures the package-level logger. Call once during host
// bring-up, before the megakernel is launched.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer = out
	if !cfg.JSONOutput {
		w = zerolog.ConsoleWriter{Out: out}
	}

	lvl, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the given subsystem name.
func WithComponent(component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// Info logs a structured informational event.
func Info(msg string) {
	logger.Info().Msg(msg)
}

// Debug logs a structured debug event.
func Debug(msg string) {
	logger.Debug().Msg(msg)
}

// Warn logs a structured warning event.
func Warn(msg string) {
	logger.Warn().Msg(msg)
}

// Error logs a structured error event.
func Error(msg string, err error) {
	logger.Error().Err(err).Msg(msg)
}

// Fatal logs a structured fatal event ahead of the core's own panic/abort.
// It never calls os.Exit itself; spec.md §7 requires the core to abort via
// panic rather than terminate the process out from under its caller.
func Fatal(msg string, err error) {
	logger.Error().Err(err).Bool("fatal", true).Msg(msg)
}
