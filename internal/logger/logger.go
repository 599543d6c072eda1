package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the global logger based on config
func Setup(level string) {
	SetupWriter(os.Stdout, level)
}

// SetupWriter installs a text handler writing to w as the default logger.
func SetupWriter(w io.Writer, level string) {
	// Text handler reads better than JSON in a terminal
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}
