package support

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/cpuspec"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/privacy"
	"gopkg.in/yaml.v3"
)

// Collector collects support data for troubleshooting
type Collector struct {
	configPath string
	dataPath   string
	systemID   string
	version    string
}

// NewCollector creates a new support data collector
func NewCollector(configPath, dataPath, systemID, version string) *Collector {
	if configPath == "" {
		configPath = "."
	}
	if dataPath == "" {
		dataPath = "."
	}

	return &Collector{
		configPath: configPath,
		dataPath:   dataPath,
		systemID:   systemID,
		version:    version,
	}
}

// Collect gathers support data based on the provided options
func (c *Collector) Collect(ctx context.Context, opts CollectorOptions) (*SupportDump, error) {
	if !opts.IncludeLogs && !opts.IncludeConfig && !opts.IncludeSystemInfo {
		return nil, errors.Newf("at least one data type must be included in support dump").
			Component("support").
			Category(errors.CategoryValidation).
			Context("operation", "validate_collect_options").
			Build()
	}

	dump := &SupportDump{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		SystemID:  c.systemID,
		Version:   c.version,
	}

	if opts.IncludeSystemInfo {
		dump.SystemInfo = c.collectSystemInfo()
	}

	if opts.IncludeConfig {
		config, err := c.collectConfig(opts.ScrubSensitive)
		if err != nil {
			return nil, errors.New(err).
				Component("support").
				Category(errors.CategoryConfiguration).
				Context("operation", "collect_config").
				Build()
		}
		dump.Config = config
	}

	if opts.IncludeLogs {
		logs, err := c.collectLogs(ctx, opts.LogDuration, opts.MaxLogSize, opts.ScrubSensitive)
		if err != nil {
			return nil, errors.New(err).
				Component("support").
				Category(errors.CategoryFileIO).
				Context("operation", "collect_logs").
				Context("log_duration", opts.LogDuration.String()).
				Build()
		}
		dump.Logs = logs
	}

	return dump, nil
}

// CreateArchive creates a zip archive containing the support dump
func (c *Collector) CreateArchive(_ context.Context, dump *SupportDump, opts CollectorOptions) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	metadataFile, err := w.Create("metadata.json")
	if err != nil {
		return nil, archiveError(err, "create_metadata_file")
	}
	if err := json.NewEncoder(metadataFile).Encode(dump); err != nil {
		return nil, archiveError(err, "write_metadata")
	}

	if opts.IncludeLogs && len(dump.Logs) > 0 {
		logsFile, err := w.Create("logs.json")
		if err != nil {
			return nil, archiveError(err, "create_logs_file")
		}
		if err := json.NewEncoder(logsFile).Encode(dump.Logs); err != nil {
			return nil, archiveError(err, "write_logs")
		}
	}

	if opts.IncludeConfig && dump.Config != nil {
		configFile, err := w.Create("config.json")
		if err != nil {
			return nil, archiveError(err, "create_config_file")
		}
		if err := json.NewEncoder(configFile).Encode(dump.Config); err != nil {
			return nil, archiveError(err, "write_config")
		}
	}

	if opts.IncludeSystemInfo {
		sysInfoFile, err := w.Create("system_info.json")
		if err != nil {
			return nil, archiveError(err, "create_system_info_file")
		}
		if err := json.NewEncoder(sysInfoFile).Encode(dump.SystemInfo); err != nil {
			return nil, archiveError(err, "write_system_info")
		}
	}

	if err := w.Close(); err != nil {
		return nil, archiveError(err, "close_archive")
	}

	return buf.Bytes(), nil
}

func archiveError(err error, operation string) error {
	return errors.New(err).
		Component("support").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Build()
}

// collectSystemInfo gathers privacy-safe facts about the host
func (c *Collector) collectSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
		CPUCount:     runtime.NumCPU(),
		CPUModel:     cpuspec.GetCPUSpec().BrandName,
		Container:    conf.RunningInContainer(),
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		info.MemoryMB = vmStat.Total / 1024 / 1024
	}

	// Board model matters, most sinks run on single board computers
	if runtime.GOOS == "linux" {
		if content, err := os.ReadFile("/proc/device-tree/model"); err == nil {
			info.BoardModel = strings.TrimRight(strings.TrimSpace(string(content)), "\x00")
		}
	}

	return info
}

// collectConfig loads and scrubs the configuration
func (c *Collector) collectConfig(scrub bool) (map[string]any, error) {
	configPath := filepath.Join(c.configPath, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.New(err).
			Component("support").
			Category(errors.CategoryFileIO).
			Context("operation", "read_config_file").
			Build()
	}

	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.New(err).
			Component("support").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_config_yaml").
			Build()
	}

	if scrub {
		config = scrubConfig(config)
	}

	return config, nil
}

// sensitiveConfigKeys are matched as substrings against lowercased keys.
// Broker addresses, topics and notification URLs reveal the home network,
// coordinates reveal the home itself.
var sensitiveConfigKeys = []string{
	"password", "username", "token", "secret", "apikey", "dsn",
	"broker", "topic", "urls", "latitude", "longitude", "device",
}

// scrubConfig removes sensitive information from configuration
func scrubConfig(config map[string]any) map[string]any {
	scrubbed := make(map[string]any)
	for k, v := range config {
		scrubbed[k] = scrubValue(k, v)
	}
	return scrubbed
}

// scrubValue recursively scrubs sensitive values
func scrubValue(key string, value any) any {
	lowerKey := strings.ToLower(key)
	for _, sensitive := range sensitiveConfigKeys {
		if strings.Contains(lowerKey, sensitive) {
			return "[REDACTED]"
		}
	}

	switch v := value.(type) {
	case map[string]any:
		scrubbed := make(map[string]any)
		for k, val := range v {
			scrubbed[k] = scrubValue(k, val)
		}
		return scrubbed
	case []any:
		scrubbed := make([]any, len(v))
		for i, item := range v {
			scrubbed[i] = scrubValue(key, item)
		}
		return scrubbed
	default:
		return value
	}
}

// collectLogs collects recent log entries from the journal and log files
func (c *Collector) collectLogs(ctx context.Context, duration time.Duration, maxSize int64, scrub bool) ([]LogEntry, error) {
	var logs []LogEntry

	if journalLogs, err := c.collectJournalLogs(ctx, duration); err == nil {
		logs = append(logs, journalLogs...)
	}

	if fileLogs, err := c.collectLogFiles(duration, maxSize); err == nil {
		logs = append(logs, fileLogs...)
	}

	if scrub {
		for i := range logs {
			logs[i].Message = privacy.ScrubMessage(logs[i].Message)
		}
	}

	sortLogsByTime(logs)

	return logs, nil
}

// collectJournalLogs collects logs from the systemd journal
func (c *Collector) collectJournalLogs(ctx context.Context, duration time.Duration) ([]LogEntry, error) {
	var logs []LogEntry

	since := time.Now().Add(-duration).Format("2006-01-02 15:04:05")

	cmd := exec.CommandContext(ctx, "journalctl",
		"-u", "btsink.service",
		"--since", since,
		"--no-pager",
		"-o", "json",
		"--no-hostname")

	output, err := cmd.Output()
	if err != nil {
		// journalctl may be missing or the unit may not exist, both fine
		return logs, nil
	}

	for _, line := range strings.Split(string(output), "\n") {
		if line == "" {
			continue
		}

		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}

		message, _ := entry["MESSAGE"].(string)
		priority, _ := entry["PRIORITY"].(string)
		timestamp, _ := entry["__REALTIME_TIMESTAMP"].(string)

		var ts time.Time
		if timestamp != "" {
			if usec, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
				ts = time.Unix(0, usec*1000)
			}
		}

		level := "INFO"
		switch priority {
		case "0", "1", "2", "3":
			level = "ERROR"
		case "4":
			level = "WARNING"
		case "7":
			level = "DEBUG"
		}

		logs = append(logs, LogEntry{
			Timestamp: ts,
			Level:     level,
			Message:   message,
			Source:    "journald",
		})
	}

	return logs, nil
}

// collectLogFiles collects logs from the service log directories
func (c *Collector) collectLogFiles(duration time.Duration, maxSize int64) ([]LogEntry, error) {
	var logs []LogEntry

	logPaths := []string{
		"logs",
		filepath.Join(c.dataPath, "logs"),
		filepath.Join(c.configPath, "logs"),
	}

	cutoffTime := time.Now().Add(-duration)
	totalSize := int64(0)

	for _, logPath := range logPaths {
		info, err := os.Stat(logPath)
		if err != nil || !info.IsDir() {
			continue
		}

		files, err := os.ReadDir(logPath)
		if err != nil {
			continue
		}

		for _, file := range files {
			if !strings.HasSuffix(file.Name(), ".log") {
				continue
			}
			fileLogs, size := c.parseLogFile(filepath.Join(logPath, file.Name()), cutoffTime, maxSize-totalSize)
			logs = append(logs, fileLogs...)
			totalSize += size
			if totalSize >= maxSize {
				return logs, nil
			}
		}
	}

	return logs, nil
}

// parseLogFile parses a log file and extracts entries newer than the cutoff
func (c *Collector) parseLogFile(path string, cutoffTime time.Time, maxSize int64) ([]LogEntry, int64) {
	var logs []LogEntry
	var totalSize int64

	file, err := os.Open(path)
	if err != nil {
		return logs, 0
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		totalSize += int64(len(line))

		if totalSize > maxSize {
			break
		}

		entry := parseLogLine(line)
		if entry != nil && entry.Timestamp.After(cutoffTime) {
			logs = append(logs, *entry)
		}
	}

	return logs, totalSize
}

// parseLogLine parses a single log line. The logging package writes slog
// JSON with a "service" attribute, a plain text fallback covers logs from
// older installs.
func parseLogLine(line string) *LogEntry {
	var jsonLog map[string]any
	if err := json.Unmarshal([]byte(line), &jsonLog); err == nil {
		entry := &LogEntry{
			Source: "file",
		}

		if timeStr, ok := jsonLog["time"].(string); ok {
			if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
				entry.Timestamp = t
			}
		}

		if level, ok := jsonLog["level"].(string); ok {
			entry.Level = strings.ToUpper(level)
		}

		if msg, ok := jsonLog["msg"].(string); ok {
			entry.Message = msg
		}

		if service, ok := jsonLog["service"].(string); ok {
			entry.Source = service
		}

		if entry.Message != "" {
			return entry
		}
	}

	// Format: 2024-01-20 15:04:05 [LEVEL] message
	parts := strings.SplitN(line, " ", 4)
	if len(parts) < 4 {
		return nil
	}

	timestamp, err := time.Parse("2006-01-02 15:04:05", parts[0]+" "+parts[1])
	if err != nil {
		return nil
	}

	return &LogEntry{
		Timestamp: timestamp,
		Level:     strings.Trim(parts[2], "[]"),
		Message:   parts[3],
		Source:    "file",
	}
}

// sortLogsByTime sorts log entries by timestamp
func sortLogsByTime(logs []LogEntry) {
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].Timestamp.Before(logs[j].Timestamp)
	})
}

// SanitizeFilename ensures the filename is safe for use
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(name)
}
