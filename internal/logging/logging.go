// Package logging provides the shared slog setup for the btsink services.
// It exposes a structured (JSON) logger, a human-readable logger, per-service
// child loggers and rotating file loggers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger
var humanReadableLogger *slog.Logger

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// renameLevels maps the custom Trace/Fatal levels to their labels.
func renameLevels(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		label, ok := levelNames[level]
		if !ok {
			label = level.String()
		}
		a.Value = slog.StringValue(label)
	}
	return a
}

func newHandlers(structuredOut, humanOut io.Writer, structuredLevel, humanLevel slog.Level) (slog.Handler, slog.Handler) {
	jsonHandler := slog.NewJSONHandler(structuredOut, &slog.HandlerOptions{
		Level:       structuredLevel,
		ReplaceAttr: renameLevels,
	})
	textHandler := slog.NewTextHandler(humanOut, &slog.HandlerOptions{
		Level:       humanLevel,
		ReplaceAttr: renameLevels,
	})
	return jsonHandler, textHandler
}

// Init initializes the logging system with structured and human-readable loggers.
// JSON goes to stdout, text to stderr. The structured logger becomes the
// process default.
func Init() {
	jsonHandler, textHandler := newHandlers(os.Stdout, os.Stderr, slog.LevelDebug, slog.LevelInfo)
	structuredLogger = slog.New(jsonHandler)
	humanReadableLogger = slog.New(textHandler)
	slog.SetDefault(structuredLogger)
}

// SetLevel sets the minimum logging level for both loggers.
func SetLevel(level slog.Level) {
	jsonHandler, textHandler := newHandlers(os.Stdout, os.Stderr, level, level)
	structuredLogger = slog.New(jsonHandler)
	humanReadableLogger = slog.New(textHandler)
	slog.SetDefault(structuredLogger)
}

// SetOutput redirects logger output, e.g. for tests capturing log lines.
func SetOutput(structuredOut, humanOut io.Writer) {
	jsonHandler, textHandler := newHandlers(structuredOut, humanOut, slog.LevelDebug, slog.LevelInfo)
	structuredLogger = slog.New(jsonHandler)
	humanReadableLogger = slog.New(textHandler)
	slog.SetDefault(structuredLogger)
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (text) logger.
// Returns nil if Init() has not been called.
func HumanReadable() *slog.Logger {
	return humanReadableLogger
}

// ForService creates a child logger with the 'service' attribute added.
// Service names used across btsink: audio, dsp, engine, api, mqtt,
// datastore, monitor, notify.
// Returns nil if Init() has not been called.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return nil
	}
	return structuredLogger.With("service", serviceName)
}

// Convenience functions using the default logger.

func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs at the custom Fatal level and exits the process.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs at the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// File rotation defaults, overridable from configuration before any
// NewFileLogger call. Guarded because conf loading and service init
// may race during startup.
var (
	rotationMu         sync.RWMutex
	rotationMaxSizeMB  = 100
	rotationMaxBackups = 3
	rotationMaxAgeDays = 28
)

// SetFileRotation overrides the rotation policy applied to file loggers.
// Zero or negative arguments keep the current value.
func SetFileRotation(maxSizeMB, maxBackups, maxAgeDays int) {
	rotationMu.Lock()
	defer rotationMu.Unlock()
	if maxSizeMB > 0 {
		rotationMaxSizeMB = maxSizeMB
	}
	if maxBackups > 0 {
		rotationMaxBackups = maxBackups
	}
	if maxAgeDays > 0 {
		rotationMaxAgeDays = maxAgeDays
	}
}

// NewFileLogger creates a slog.Logger writing JSON logs to filePath with
// lumberjack rotation, tagged with the given service name. It returns the
// logger, a function to close the underlying writer, and an error if the
// log directory cannot be created.
func NewFileLogger(filePath, serviceName string, level slog.Level) (*slog.Logger, func() error, error) {
	// lumberjack does not create directories
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	rotationMu.RLock()
	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    rotationMaxSizeMB,
		MaxBackups: rotationMaxBackups,
		MaxAge:     rotationMaxAgeDays,
		Compress:   false,
	}
	rotationMu.RUnlock()

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: renameLevels,
	})

	logger := slog.New(fileHandler).With("service", serviceName)

	closeFunc := func() error {
		return logWriter.Close()
	}

	return logger, closeFunc, nil
}
