// Package monitor provides system resource monitoring with threshold-based notifications
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/tphakala/btsink-go/internal/audio"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/logging"
	"github.com/tphakala/btsink-go/internal/notify"
)

// ResourceType represents the type of system resource being monitored
type ResourceType string

const (
	ResourceCPU    ResourceType = "cpu"
	ResourceMemory ResourceType = "memory"
	ResourceDrops  ResourceType = "drops"
)

const (
	defaultInterval = 30 * time.Second

	// hysteresisPercent keeps a resource in warning state until it drops
	// this far below the threshold, so values oscillating around the
	// threshold do not flap notifications.
	hysteresisPercent = 5.0
)

// AlertState tracks the current alert state for a resource
type AlertState struct {
	InWarning bool
	LastValue float64
	LastCheck time.Time
}

// StatsSource yields pipeline counters for the drop-rate check.
// The engine satisfies it.
type StatsSource interface {
	PipelineStats() audio.Stats
}

// Alerter receives threshold notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Send(ctx context.Context, n *notify.Notification) error
}

// SystemMonitor watches CPU load, memory pressure and the render
// pipeline drop rate, and raises notifications when the configured
// thresholds are crossed.
type SystemMonitor struct {
	settings conf.MonitorSettings
	interval time.Duration
	alerter  Alerter
	stats    StatsSource
	log      *slog.Logger

	mu          sync.RWMutex
	alertStates map[ResourceType]*AlertState

	// lastDropped is the cumulative drop count at the previous tick;
	// the first tick only establishes the baseline.
	lastDropped  uint64
	dropBaseline bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSystemMonitor creates a new system monitor instance. The alerter
// and stats source may be nil, which drops the notifications and the
// drop-rate check respectively.
func NewSystemMonitor(settings conf.MonitorSettings, alerter Alerter, stats StatsSource) *SystemMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	interval := settings.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	return &SystemMonitor{
		settings:    settings,
		interval:    interval,
		alerter:     alerter,
		stats:       stats,
		log:         logging.ForService("monitor"),
		alertStates: make(map[ResourceType]*AlertState),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins monitoring system resources
func (m *SystemMonitor) Start() {
	if !m.settings.Enabled {
		m.log.Warn("System monitoring is disabled in configuration")
		return
	}

	m.log.Info("Starting system resource monitoring",
		"interval", m.interval,
		"cpu_warning", m.settings.CPUWarning,
		"memory_warning", m.settings.MemWarning,
		"drop_warning", m.settings.DropWarning)

	m.wg.Add(1)
	go m.monitorLoop()
}

// Stop stops the system monitor
func (m *SystemMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// State returns the current alert state for a resource.
func (m *SystemMonitor) State(resource ResourceType) (AlertState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.alertStates[resource]
	if !ok {
		return AlertState{}, false
	}
	return *state, true
}

// monitorLoop is the main monitoring loop
func (m *SystemMonitor) monitorLoop() {
	defer m.wg.Done()

	m.checkAllResources()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAllResources()
		case <-m.ctx.Done():
			m.log.Info("System monitor loop stopping")
			return
		}
	}
}

// checkAllResources checks all monitored resources
func (m *SystemMonitor) checkAllResources() {
	if m.settings.CPUWarning > 0 {
		m.checkCPU()
	}
	if m.settings.MemWarning > 0 {
		m.checkMemory()
	}
	if m.settings.DropWarning > 0 && m.stats != nil {
		m.checkDrops()
	}
}

// checkCPU monitors CPU usage
func (m *SystemMonitor) checkCPU() {
	// Instant reading; less accurate than a timed sample but non-blocking
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		m.log.Error("Failed to get CPU usage", "error", err)
		return
	}
	if len(cpuPercent) == 0 {
		return
	}

	m.checkThreshold(ResourceCPU, cpuPercent[0], m.settings.CPUWarning)
}

// checkMemory monitors memory usage
func (m *SystemMonitor) checkMemory() {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		m.log.Error("Failed to get memory info", "error", err)
		return
	}

	m.checkThreshold(ResourceMemory, memInfo.UsedPercent, m.settings.MemWarning)
}

// checkDrops compares the cumulative pipeline drop counter against the
// previous tick. A render pipeline shedding buffers means the sink is
// audibly glitching, which is worth a push notification.
func (m *SystemMonitor) checkDrops() {
	stats := m.stats.PipelineStats()
	dropped := stats.Dropped + stats.EnqueueFailed

	m.mu.Lock()
	if !m.dropBaseline {
		m.dropBaseline = true
		m.lastDropped = dropped
		m.mu.Unlock()
		return
	}
	delta := dropped - m.lastDropped
	m.lastDropped = dropped

	state := m.stateLocked(ResourceDrops)
	state.LastValue = float64(delta)
	state.LastCheck = time.Now()

	var entered, recovered bool
	switch {
	case delta >= m.settings.DropWarning:
		if !state.InWarning {
			state.InWarning = true
			entered = true
		}
	case delta == 0:
		if state.InWarning {
			state.InWarning = false
			recovered = true
		}
	}
	m.mu.Unlock()

	if entered {
		m.log.Warn("Audio pipeline is dropping buffers",
			"dropped_per_interval", delta,
			"threshold", m.settings.DropWarning)
		m.sendAlert(notify.TypeWarning, notify.PriorityHigh,
			"Audio buffers dropping",
			fmt.Sprintf("%d buffers dropped in the last %s (threshold %d)", delta, m.interval, m.settings.DropWarning))
	}
	if recovered {
		m.log.Info("Audio pipeline drop rate recovered")
		m.sendAlert(notify.TypeInfo, notify.PriorityMedium,
			"Audio drop rate recovered",
			fmt.Sprintf("no buffers dropped in the last %s", m.interval))
	}
}

// checkThreshold evaluates a percentage reading against its warning
// threshold with hysteresis on the way down.
func (m *SystemMonitor) checkThreshold(resource ResourceType, current, warning float64) {
	m.mu.Lock()
	state := m.stateLocked(resource)
	state.LastValue = current
	state.LastCheck = time.Now()

	var entered, recovered bool
	switch {
	case current >= warning:
		if !state.InWarning {
			state.InWarning = true
			entered = true
		}
	case current < warning-hysteresisPercent:
		if state.InWarning {
			state.InWarning = false
			recovered = true
		}
	}
	m.mu.Unlock()

	if entered {
		m.log.Warn("Warning threshold exceeded",
			"resource", string(resource),
			"current", fmt.Sprintf("%.1f%%", current),
			"threshold", fmt.Sprintf("%.1f%%", warning))
		m.sendAlert(notify.TypeWarning, notify.PriorityHigh,
			fmt.Sprintf("%s usage high", resourceLabel(resource)),
			fmt.Sprintf("%s usage is %.1f%% (threshold %.1f%%)", resourceLabel(resource), current, warning))
	}
	if recovered {
		m.log.Info("Resource recovered",
			"resource", string(resource),
			"current", fmt.Sprintf("%.1f%%", current))
		m.sendAlert(notify.TypeInfo, notify.PriorityMedium,
			fmt.Sprintf("%s usage recovered", resourceLabel(resource)),
			fmt.Sprintf("%s usage is back to %.1f%%", resourceLabel(resource), current))
	}
}

// stateLocked returns the mutable alert state for a resource, creating
// it on first use. The caller must hold m.mu.
func (m *SystemMonitor) stateLocked(resource ResourceType) *AlertState {
	state, ok := m.alertStates[resource]
	if !ok {
		state = &AlertState{}
		m.alertStates[resource] = state
	}
	return state
}

func (m *SystemMonitor) sendAlert(typ notify.Type, priority notify.Priority, title, message string) {
	if m.alerter == nil {
		return
	}
	notification := notify.New(typ, priority, title, message).WithComponent("monitor")
	if err := m.alerter.Send(m.ctx, notification); err != nil {
		m.log.Error("Failed to deliver resource notification", "title", title, "error", err)
	}
}

func resourceLabel(resource ResourceType) string {
	switch resource {
	case ResourceCPU:
		return "CPU"
	case ResourceMemory:
		return "Memory"
	case ResourceDrops:
		return "Drop rate"
	default:
		return string(resource)
	}
}
