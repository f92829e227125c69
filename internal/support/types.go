// Package support provides functionality for collecting redacted support
// bundles used to troubleshoot sink installations.
package support

import (
	"time"
)

// SupportDump is a collection of logs, configuration and system
// information for a single install. Everything in it is scrubbed of
// sensitive data before it leaves the device.
type SupportDump struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	SystemID   string         `json:"system_id"`
	Version    string         `json:"version"`
	Logs       []LogEntry     `json:"logs"`
	Config     map[string]any `json:"config"`
	SystemInfo SystemInfo     `json:"system_info"`
}

// LogEntry is a single log line from the service logs or the journal.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
}

// SystemInfo describes the host the sink runs on. It carries hardware
// facts, never identifiers.
type SystemInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	GoVersion    string `json:"go_version"`
	CPUCount     int    `json:"cpu_count"`
	CPUModel     string `json:"cpu_model,omitempty"`
	MemoryMB     uint64 `json:"memory_mb"`
	Container    bool   `json:"container"`
	BoardModel   string `json:"board_model,omitempty"`
}

// CollectorOptions configures what data to collect in a support dump.
type CollectorOptions struct {
	IncludeLogs       bool          `json:"include_logs"`
	IncludeConfig     bool          `json:"include_config"`
	IncludeSystemInfo bool          `json:"include_system_info"`
	LogDuration       time.Duration `json:"log_duration"`
	MaxLogSize        int64         `json:"max_log_size"`
	ScrubSensitive    bool          `json:"scrub_sensitive"`
}

// DefaultCollectorOptions returns collector options suitable for a small
// always-on device: everything included, a two week log window, 20MB of
// logs at most, scrubbing on.
func DefaultCollectorOptions() CollectorOptions {
	return CollectorOptions{
		IncludeLogs:       true,
		IncludeConfig:     true,
		IncludeSystemInfo: true,
		LogDuration:       14 * 24 * time.Hour,
		MaxLogSize:        20 * 1024 * 1024,
		ScrubSensitive:    true,
	}
}
