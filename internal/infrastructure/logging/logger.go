package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/parkflow/parkflow-core/internal/infrastructure/config"
)

// serviceName is attached to every log record.
const serviceName = "parkflow"

// Logger wraps slog.Logger with ParkFlow default fields.
//
// It satisfies the small Logger interfaces declared by the domain packages
// (Debug/Info/Warn/Error with key-value args), so it can be handed to them
// directly. All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the output named in cfg.
//
// Format "text" selects the human-readable handler; anything else is JSON.
// Every record carries the service name and the given version.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter is New with an explicit destination, used by tests and by
// callers that tee logs elsewhere.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
// Unrecognised values fall back to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
//	fbLogger := logger.With("component", "fieldbus")
//	fbLogger.Info("device read") // Includes component=fieldbus
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a logger for use before configuration is loaded.
// It writes JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
