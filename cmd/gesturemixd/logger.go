package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogLevel is the configured verbosity of the daemon.
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

var logLevels = map[string]LogLevel{
	"error":   LogLevelError,
	"warn":    LogLevelWarn,
	"warning": LogLevelWarn,
	"info":    LogLevelInfo,
	"debug":   LogLevelDebug,
}

var slogLevels = map[LogLevel]slog.Level{
	LogLevelError: slog.LevelError,
	LogLevelWarn:  slog.LevelWarn,
	LogLevelInfo:  slog.LevelInfo,
	LogLevelDebug: slog.LevelDebug,
}

func parseLogLevel(level string) (LogLevel, error) {
	if l, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l, nil
	}
	return "", fmt.Errorf("invalid log level: %q (must be error, warn, info or debug)", level)
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// parseLogFormat accepts text and json; empty means text.
func parseLogFormat(format string) (LogFormat, error) {
	switch f := LogFormat(strings.ToLower(strings.TrimSpace(format))); f {
	case "", LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("invalid log format: %q (must be text or json)", format)
	}
}

// setupLogger builds the daemon logger on w. Debug level adds source
// locations. Every record carries the app name and version; components add
// their own "component" attribute.
func setupLogger(w io.Writer, level LogLevel, format LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     slogLevels[level],
		AddSource: level == LogLevelDebug,
	}

	var h slog.Handler
	if format == LogFormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("app", appName, "version", version)
}
