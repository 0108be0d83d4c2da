package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with orchestrator-specific field helpers.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger creates a logger from the logging configuration.
func NewLogger(cfg LoggingConfig, serviceName, serviceVersion string) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output %q: %w", cfg.Output, err)
		}
		out = f
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", serviceName).
		Str("version", serviceVersion)
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}

	return &Logger{zl: ctx.Logger()}, nil
}

// NewTestLogger returns a logger that discards everything, for tests.
func NewTestLogger() *Logger {
	return &Logger{zl: zerolog.New(io.Discard)}
}

// Zerolog exposes the underlying zerolog.Logger for integration points that
// want the raw API.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// WithRunID returns a child logger tagged with a provisioning run.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{zl: l.zl.With().Str("run_id", runID).Logger()}
}

// WithScenarioID returns a child logger tagged with a scenario.
func (l *Logger) WithScenarioID(scenarioID string) *Logger {
	return &Logger{zl: l.zl.With().Str("scenario_id", scenarioID).Logger()}
}

// WithStepID returns a child logger tagged with a pipeline step.
func (l *Logger) WithStepID(stepID string) *Logger {
	return &Logger{zl: l.zl.With().Str("step", stepID).Logger()}
}

// WithConnector returns a child logger tagged with a connector name.
func (l *Logger) WithConnector(connector string) *Logger {
	return &Logger{zl: l.zl.With().Str("connector", connector).Logger()}
}

// Debug logs a debug message with optional key/value fields.
func (l *Logger) Debug(msg string, fields ...any) {
	l.log(l.zl.Debug(), msg, fields)
}

// Info logs an informational message with optional key/value fields.
func (l *Logger) Info(msg string, fields ...any) {
	l.log(l.zl.Info(), msg, fields)
}

// Warn logs a warning with optional key/value fields.
func (l *Logger) Warn(msg string, fields ...any) {
	l.log(l.zl.Warn(), msg, fields)
}

// Error logs an error with optional key/value fields.
func (l *Logger) Error(err error, msg string, fields ...any) {
	l.log(l.zl.Error().Err(err), msg, fields)
}

// Fatal logs a fatal error and exits.
func (l *Logger) Fatal(err error, msg string, fields ...any) {
	l.log(l.zl.Fatal().Err(err), msg, fields)
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields []any) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		ev = ev.Interface(key, fields[i+1])
	}
	ev.Msg(msg)
}

type loggerContextKey struct{}

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext retrieves the logger from the context, falling back to a
// discard logger so call sites never need a nil check.
func LoggerFromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return logger
	}
	return NewTestLogger()
}
