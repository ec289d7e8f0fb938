package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/jmylchreest/slog-logfilter"
)

// New builds a filtered logger writing to w and installs it as the slog default.
// Formats: "json" (default) and "text".
func New(w io.Writer, logLevel string, format string) *slog.Logger {
	opts := []logfilter.Option{
		logfilter.WithLevel(ParseLevel(logLevel)),
		logfilter.WithOutput(w),
	}

	if strings.EqualFold(format, "text") {
		opts = append(opts, logfilter.WithFormat("text"))
	} else {
		opts = append(opts, logfilter.WithFormat("json"))
	}

	logger := logfilter.New(opts...)
	slog.SetDefault(logger)
	return logger
}

// AddJobFilter raises records tagged with job=<kind> to debug regardless of
// the global level.
func AddJobFilter(kind string) {
	logfilter.AddFilter(logfilter.LogFilter{
		Type:    "job",
		Pattern: kind,
		Level:   "debug",
		Enabled: true,
	})
}

// ParseLevel maps a config level name onto slog; unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
