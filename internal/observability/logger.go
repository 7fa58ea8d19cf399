package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level; unknown values fall back to info.
	Level string
	// Format is json, or console/pretty for human-readable output.
	Format string
	// Output is stdout or stderr.
	Output string
	// AddSource adds the caller's file and line.
	AddSource bool
	// TimeFormat overrides the timestamp layout.
	TimeFormat string
}

// NewLogger creates the process logger and sets the global level to match.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	return newLogger(cfg, out).Level(level)
}

func newLogger(cfg LoggingConfig, out io.Writer) zerolog.Logger {
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: zerolog.TimeFieldFormat}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.AddSource {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// parseLevel accepts zerolog level names plus "warning".
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zerolog.WarnLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithJobContext adds enrichment job fields to a logger.
func WithJobContext(logger zerolog.Logger, jobID, runID string) zerolog.Logger {
	return logger.With().
		Str("job_id", jobID).
		Str("run_id", runID).
		Logger()
}

// WithSceneContext adds scene fields to a logger.
func WithSceneContext(logger zerolog.Logger, sceneID string, attempt int) zerolog.Logger {
	return logger.With().
		Str("scene_id", sceneID).
		Int("attempt", attempt).
		Logger()
}

// WithRequestContext adds the HTTP correlation ID to a logger.
func WithRequestContext(logger zerolog.Logger, correlationID string) zerolog.Logger {
	return logger.With().
		Str("correlation_id", correlationID).
		Logger()
}
