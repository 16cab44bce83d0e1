// Package logging provides structured logging capabilities using slog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// global logger instances, initialized in Init()
var (
	structuredLogger *slog.Logger
	consoleLogger    *slog.Logger
	loggerMu         sync.RWMutex
)

// currentLogLevel stores the dynamic level for all loggers
var currentLogLevel = new(slog.LevelVar)
var initOnce sync.Once

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// defaultReplaceAttr provides common attribute formatting for all loggers.
// It formats time to second precision, names the custom levels, and
// truncates floats to two decimals.
func defaultReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	}
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			label, exists := levelNames[level]
			if !exists {
				label = level.String()
			}
			a.Value = slog.StringValue(label)
		} else {
			a.Value = slog.StringValue(fmt.Sprintf("%v", a.Value.Any()))
		}
	}
	if a.Value.Kind() == slog.KindFloat64 {
		truncated := math.Trunc(a.Value.Float64()*100) / 100.0
		a.Value = slog.Float64Value(truncated)
	}
	return a
}

// Options configures Init.
type Options struct {
	// LogFile receives the JSON log. Empty disables the file log.
	LogFile string
	// Level is the initial level for all handlers.
	Level slog.Level
	// Console receives the human readable log; defaults to stderr.
	Console io.Writer
}

// Init initializes the global loggers. It sets up a structured (JSON)
// logger to a rotated file and a human-readable (Text) logger on the
// console. Safe to call more than once; only the first call takes effect.
func Init(opts Options) {
	initOnce.Do(func() {
		currentLogLevel.Set(opts.Level)

		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{
			Level:       currentLogLevel,
			ReplaceAttr: defaultReplaceAttr,
		})

		var structured slog.Handler = consoleHandler
		if opts.LogFile != "" {
			rotated := &lumberjack.Logger{
				Filename:   opts.LogFile,
				MaxSize:    20, // megabytes
				MaxBackups: 3,
				MaxAge:     30, // days
				Compress:   true,
			}
			structured = slog.NewJSONHandler(rotated, &slog.HandlerOptions{
				Level:       currentLogLevel,
				ReplaceAttr: defaultReplaceAttr,
			})
		}

		loggerMu.Lock()
		structuredLogger = slog.New(structured)
		consoleLogger = slog.New(consoleHandler)
		loggerMu.Unlock()

		slog.SetDefault(slog.New(consoleHandler))
	})
}

// SetLevel changes the level of all handlers at runtime.
func SetLevel(level slog.Level) {
	currentLogLevel.Set(level)
}

// ForService returns the structured logger scoped to a service name, or nil
// when logging has not been initialized. Callers fall back to slog.Default.
func ForService(serviceName string) *slog.Logger {
	loggerMu.RLock()
	logger := structuredLogger
	loggerMu.RUnlock()

	if logger == nil {
		return nil
	}
	return logger.With("service", serviceName)
}

// ServiceLogger returns a non-nil service logger, falling back to the
// default logger when Init has not run (as in tests).
func ServiceLogger(serviceName string) *slog.Logger {
	if l := ForService(serviceName); l != nil {
		return l
	}
	return slog.Default().With("service", serviceName)
}
