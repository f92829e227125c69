package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/logging"
)

// CaptureSystemInfo captures system state after an abnormal event, writes
// it to a debug file next to the config, and returns it as a string.
func CaptureSystemInfo(errorMessage string) string {
	var info strings.Builder

	separator := "======== DEBUG INFO START ========"
	info.WriteString(fmt.Sprintf("%s\n", separator))
	info.WriteString(fmt.Sprintf("Error Occurred: %s\n", errorMessage))

	cpuPercent, err := cpu.Percent(time.Second, false)
	if err == nil && len(cpuPercent) > 0 {
		info.WriteString(fmt.Sprintf("CPU Utilization: %.2f%%\n", cpuPercent[0]))
	}

	vmStat, err := mem.VirtualMemory()
	if err == nil {
		info.WriteString(fmt.Sprintf("RAM Usage: %.2f%%\n", vmStat.UsedPercent))
	}

	swapStat, err := mem.SwapMemory()
	if err == nil {
		info.WriteString(fmt.Sprintf("Swap Usage: %.2f%%\n", swapStat.UsedPercent))
	}

	cmd := exec.Command("ps", "axuww")
	output, err := cmd.Output()
	if err != nil {
		logging.Warn("Error running 'ps axuww'", "error", err)
	} else {
		info.WriteString("\nProcess List (ps axuww):\n")
		info.Write(output)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	info.WriteString(fmt.Sprintf("Go Runtime: Alloc = %v MiB, TotalAlloc = %v MiB, Sys = %v MiB, NumGC = %v\n",
		bToMb(m.Alloc), bToMb(m.TotalAlloc), bToMb(m.Sys), m.NumGC))

	info.WriteString(fmt.Sprintf("%s\n", strings.ReplaceAll(separator, "START", "END")))

	configPath, err := conf.FindConfigFile()
	if err != nil {
		logging.Warn("Error finding config file", "error", err)
	} else {
		debugFileName := fmt.Sprintf("debug_%s.txt", time.Now().Format("2006-01-02_15-04-05"))
		debugFilePath := filepath.Join(filepath.Dir(configPath), debugFileName)

		if err := os.WriteFile(debugFilePath, []byte(info.String()), 0o644); err != nil {
			logging.Error("Error writing debug file", "error", err)
		} else {
			logging.Info("Abnormal event detected, debug information written", "path", debugFilePath)
		}
	}

	return info.String()
}

// bToMb converts bytes to megabytes
func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
