// Package logger provides the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]
var currentLogFile atomic.Value // string

func init() {
	current.Store(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	currentLogFile.Store("")
}

// Init builds the global logger: stdout plus, if logFile is non-empty, an
// append-only file writer. Safe to call again later (e.g. after a config
// reload changes the level) — swaps the logger atomically.
func Init(level string, logFile string) error {
	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})

	l := slog.New(handler)
	current.Store(l)
	currentLogFile.Store(logFile)
	slog.SetDefault(l)
	return nil
}

// SetLevel swaps the logger's minimum level without dropping whatever log
// file destination was already configured. Used by the config hot-reload
// watcher, which only knows the new level, not the file path.
func SetLevel(level string) {
	logFile, _ := currentLogFile.Load().(string)
	_ = Init(level, logFile)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the current global logger.
func Get() *slog.Logger { return current.Load() }

// With returns the current global logger annotated with the given attrs —
// the idiomatic way for a component to derive a scoped sub-logger, e.g.
// logger.With("session_id", id).
func With(args ...any) *slog.Logger { return current.Load().With(args...) }

func Debug(msg string, args ...any) { current.Load().Debug(msg, args...) }
func Info(msg string, args ...any)  { current.Load().Info(msg, args...) }
func Warn(msg string, args ...any)  { current.Load().Warn(msg, args...) }
func Error(msg string, args ...any) { current.Load().Error(msg, args...) }
