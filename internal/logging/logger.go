package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

var level = new(slog.LevelVar) // dynamic level, LOG_LEVEL at start, SetLevel later

// Logger is built during package variable initialization so the shortcut
// helpers below bind to a live logger.
var Logger = newLogger()

func newLogger() *slog.Logger {
	level.Set(parseLevel(os.Getenv("LOG_LEVEL")))

	var out io.Writer = os.Stdout
	if path := os.Getenv("LOG_FILE"); path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// Shortcut helpers
var (
	Info  = Logger.Info
	Error = Logger.Error
	Warn  = Logger.Warn
	Debug = Logger.Debug
	With  = Logger.With
)

// Fatal logs at error level and exits.
func Fatal(msg string, args ...any) {
	Logger.Error(msg, args...)
	os.Exit(1)
}

func SetLevel(l slog.Level) { level.Set(l) }

// WrapSlog returns a *log.Logger writing through slog at debug level,
// for libraries that only accept the standard logger.
func WrapSlog(args ...any) *log.Logger {
	return slog.NewLogLogger(Logger.With(args...).Handler(), slog.LevelDebug)
}

func parseLevel(s string) slog.Level {
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
