package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text". JSON is
	// recommended for production, text for development.
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer

	// AddSource includes file and line number in log records.
	AddSource bool
}

// sensitiveAttrs are attribute keys whose values are masked in output.
var sensitiveAttrs = map[string]bool{
	"api_key":           true,
	"secret":            true,
	"password":          true,
	"token":             true,
	"secret_access_key": true,
}

// NewLogger builds a structured slog logger from the given config.
//
// Attribute values for well-known secret keys are masked so request logging
// cannot leak credentials.
func NewLogger(cfg LogConfig) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if sensitiveAttrs[a.Key] {
				return slog.String(a.Key, "[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name onto a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
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
