// Package telemetry provides privacy-compliant error tracking through the
// Sentry SDK. Reporting is strictly opt-in and every event is scrubbed of
// identifying data before it leaves the device.
package telemetry

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
	"github.com/tphakala/btsink-go/internal/privacy"
)

var (
	telemetryLogger *slog.Logger
	enabled         atomic.Bool
)

func init() {
	telemetryLogger = logging.ForService("telemetry")
}

// Init configures the Sentry SDK when telemetry is enabled in the
// configuration and hooks it into the enhanced error flow. A disabled
// configuration is not an error.
func Init(settings *conf.Settings) error {
	return initWithTransport(settings, nil)
}

// initWithTransport lets tests swap the Sentry transport for a mock.
func initWithTransport(settings *conf.Settings, transport sentry.Transport) error {
	if !settings.Sentry.Enabled {
		telemetryLogger.Info("Telemetry is disabled (opt-in required)")
		return nil
	}

	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry is enabled but sentry.dsn is not set").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	ensureSystemID(settings)

	opts := sentry.ClientOptions{
		Dsn:        settings.Sentry.DSN,
		SampleRate: 1.0,

		// Stack traces and hostnames identify the install
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",

		Release:    fmt.Sprintf("btsink-go@%s", settings.Version),
		BeforeSend: scrubEvent,
	}
	if transport != nil {
		opts.Transport = transport
	}

	if err := sentry.Init(opts); err != nil {
		return errors.Newf("sentry initialization failed: %w", err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	configureScope(settings)

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	enabled.Store(true)

	telemetryLogger.Info("Sentry telemetry initialized",
		"system_id", settings.SystemID,
		"version", settings.Version)

	return nil
}

// Enabled reports whether telemetry was successfully initialized.
func Enabled() bool {
	return enabled.Load()
}

// ensureSystemID populates settings.SystemID from the persisted install
// identifier, creating one on first run. Failure to persist the ID is
// not fatal, telemetry then tags events with "unknown".
func ensureSystemID(settings *conf.Settings) {
	if settings.SystemID != "" {
		return
	}

	if paths, err := conf.GetDefaultConfigPaths(); err == nil && len(paths) > 0 {
		if id, err := LoadOrCreateSystemID(paths[0]); err == nil {
			settings.SystemID = id
			return
		}
	}

	settings.SystemID = "unknown"
	telemetryLogger.Warn("Could not load or create a system ID")
}

// scrubEvent is the BeforeSend hook. It strips identifying data that the
// SDK collects on its own and scrubs the free-form text fields.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	delete(event.Tags, "server_name")
	delete(event.Tags, "hostname")

	return event
}

// configureScope attaches the anonymous system ID and privacy-safe
// platform information to every event.
func configureScope(settings *conf.Settings) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", settings.SystemID)
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("container", fmt.Sprintf("%t", conf.RunningInContainer()))

		scope.SetContext("application", map[string]any{
			"name":      "btsink-go",
			"version":   settings.Version,
			"system_id": settings.SystemID,
		})

		scope.SetContext("platform", map[string]any{
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"num_cpu":    runtime.NumCPU(),
			"go_version": runtime.Version(),
		})
	})
}

// CaptureError reports an error that bypassed the enhanced error flow,
// such as a recovered panic.
func CaptureError(err error, component string) {
	if !enabled.Load() {
		return
	}

	scrubbed := privacy.ScrubMessage(err.Error())

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetFingerprint([]string{scrubbed, component})

		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = scrubbed
		event.Exception = []sentry.Exception{{
			Type:  fmt.Sprintf("%T", err),
			Value: scrubbed,
		}}

		sentry.CaptureEvent(event)
	})
}

// CaptureMessage reports a plain message at the given level.
func CaptureMessage(message string, level sentry.Level, component string) {
	if !enabled.Load() {
		return
	}

	scrubbed := privacy.ScrubMessage(message)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetLevel(level)
		sentry.CaptureMessage(scrubbed)
	})
}

// Flush blocks until buffered events are delivered or the timeout expires.
// Call it during shutdown so late errors are not lost.
func Flush(timeout time.Duration) {
	if !enabled.Load() {
		return
	}
	sentry.Flush(timeout)
}
