// Package diagnostics provides functions for collecting and reporting diagnostics information
package diagnostics

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/cpuspec"
)

// CollectDiagnostics gathers system information and logs into a zip
// archive and returns its path.
func CollectDiagnostics() (string, error) {
	tmpDir, err := os.MkdirTemp("", "btsink-diagnostics-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	switch runtime.GOOS {
	case "linux":
		err = collectLinuxDiagnostics(tmpDir)
	default:
		err = fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err != nil {
		return "", err
	}

	zipFile := tmpDir + ".zip"
	err = zipDirectory(tmpDir, zipFile)
	if err != nil {
		return "", fmt.Errorf("failed to compress diagnostics: %w", err)
	}

	os.RemoveAll(tmpDir)

	return zipFile, nil
}

func collectLinuxDiagnostics(tmpDir string) error {
	if hasSystemd() {
		collectJournaldLogs(tmpDir)
	}

	runCommand("lshw", []string{"-short"}, filepath.Join(tmpDir, "hardware_info.txt"))

	if isRaspberryPi() {
		runCommand("cat", []string{"/proc/cpuinfo"}, filepath.Join(tmpDir, "raspberry_pi_info.txt"))
	}

	collectCPUSpec(tmpDir)
	collectSoundDevices(tmpDir)
	collectBluetoothInfo(tmpDir)
	collectResourceInfo(tmpDir)

	if err := collectConfigFile(tmpDir); err != nil {
		fmt.Printf("Warning: Failed to collect config file: %v\n", err)
	}

	return nil
}

func hasSystemd() bool {
	_, err := os.Stat("/run/systemd/system")
	return err == nil
}

func collectJournaldLogs(tmpDir string) {
	sevenDaysAgo := time.Now().AddDate(0, 0, -7).Format("2006-01-02 15:04:05")
	runCommand("journalctl", []string{"-u", "btsink", "--since", sevenDaysAgo}, filepath.Join(tmpDir, "btsink_logs.txt"))
	runCommand("journalctl", []string{"-u", "bluetooth", "--since", sevenDaysAgo}, filepath.Join(tmpDir, "bluetooth_logs.txt"))
}

func isRaspberryPi() bool {
	content, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return false
	}
	return strings.Contains(string(content), "Raspberry Pi")
}

func collectCPUSpec(tmpDir string) {
	spec := cpuspec.GetCPUSpec()
	content := fmt.Sprintf("Brand: %s\nPerformance cores: %d\nLogical CPUs: %d\n",
		spec.BrandName, spec.PerformanceCores, runtime.NumCPU())
	os.WriteFile(filepath.Join(tmpDir, "cpu_spec.txt"), []byte(content), 0o644)
}

// collectSoundDevices captures the ALSA and PipeWire/PulseAudio state.
// Most playback problems on a sink are routing problems.
func collectSoundDevices(tmpDir string) {
	runCommand("aplay", []string{"-l"}, filepath.Join(tmpDir, "alsa_devices.txt"))
	runCommand("amixer", []string{"scontents"}, filepath.Join(tmpDir, "alsa_mixer.txt"))
	runCommand("pactl", []string{"list"}, filepath.Join(tmpDir, "pulseaudio_info.txt"))
	runCommand("pw-cli", []string{"list-objects"}, filepath.Join(tmpDir, "pipewire_info.txt"))
}

func collectBluetoothInfo(tmpDir string) {
	runCommand("bluetoothctl", []string{"show"}, filepath.Join(tmpDir, "bluetooth_adapter.txt"))
	runCommand("bluetoothctl", []string{"devices"}, filepath.Join(tmpDir, "bluetooth_devices.txt"))
	runCommand("systemctl", []string{"status", "bluetooth", "--no-pager"}, filepath.Join(tmpDir, "bluetooth_service.txt"))
	runCommand("lsusb", []string{}, filepath.Join(tmpDir, "usb_devices.txt"))
}

func collectResourceInfo(tmpDir string) {
	runCommand("free", []string{"-h"}, filepath.Join(tmpDir, "memory_info.txt"))
	runCommand("df", []string{"-h"}, filepath.Join(tmpDir, "disk_space.txt"))
	runCommand("top", []string{"-bn1"}, filepath.Join(tmpDir, "cpu_info.txt"))
}

func runCommand(command string, args []string, outputFile string) error {
	cmd := exec.Command(command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("error running command %s: %w", command, err)
	}
	if err := os.WriteFile(outputFile, output, 0o644); err != nil {
		return fmt.Errorf("error writing output to file %s: %w", outputFile, err)
	}
	return nil
}

func zipDirectory(source, target string) error {
	zipfile, err := os.Create(target)
	if err != nil {
		return err
	}
	defer zipfile.Close()

	archive := zip.NewWriter(zipfile)
	defer archive.Close()

	err = filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}

		header.Name = strings.TrimPrefix(path, source+"/")
		if info.IsDir() {
			header.Name += "/"
		} else {
			header.Method = zip.Deflate
		}

		writer, err := archive.CreateHeader(header)
		if err != nil {
			return err
		}

		if !info.IsDir() {
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open file %s: %w", path, err)
			}
			defer func() {
				if closeErr := file.Close(); closeErr != nil {
					err = fmt.Errorf("failed to close file %s: %w (previous error: %w)", path, closeErr, err)
				}
			}()

			_, err = io.Copy(writer, file)
			if err != nil {
				return fmt.Errorf("failed to copy file %s to zip: %w", path, err)
			}
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("error walking the path %s: %w", source, err)
	}

	return nil
}

func collectConfigFile(tmpDir string) error {
	configPaths, err := conf.GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	var configPath string
	for _, path := range configPaths {
		possiblePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(possiblePath); err == nil {
			configPath = possiblePath
			break
		}
	}

	if configPath == "" {
		return fmt.Errorf("config.yaml not found in any of the default paths")
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	maskedContent := maskSensitiveInfo(string(content))

	outputPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(outputPath, []byte(maskedContent), 0o644)
	if err != nil {
		return fmt.Errorf("error writing masked config file: %w", err)
	}

	return nil
}

func maskSensitiveInfo(content string) string {
	lines := strings.Split(content, "\n")
	sensitiveFields := map[string]bool{
		"password":     true,
		"username":     true,
		"broker":       true,
		"topic":        true,
		"controltopic": true,
		"urls":         true,
		"dsn":          true,
		"latitude":     true,
		"longitude":    true,
	}

	for i, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(strings.ToLower(parts[0]))
			value := strings.TrimSpace(parts[1])

			if sensitiveFields[key] && value != "" {
				lines[i] = fmt.Sprintf("%s: %s", parts[0], maskValue(value))
			} else if isIPOrURL(value) && !isLocalhost(value) {
				lines[i] = fmt.Sprintf("%s: %s", parts[0], maskIPOrURL(value))
			}
		}
	}

	return strings.Join(lines, "\n")
}

func maskValue(value string) string {
	return strings.Repeat("*", len(value))
}

func isIPOrURL(value string) bool {
	ipRegex := regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}(:\d+)?$`)
	urlRegex := regexp.MustCompile(`^(http|https|tcp|ssl|mqtt):\/\/`)
	return ipRegex.MatchString(value) || urlRegex.MatchString(value)
}

func isLocalhost(value string) bool {
	return value == "127.0.0.1" || value == "0.0.0.0" || strings.HasPrefix(value, "localhost")
}

func maskIPOrURL(value string) string {
	parts := strings.Split(value, "://")
	if len(parts) > 1 {
		return fmt.Sprintf("%s://%s", parts[0], maskValue(parts[1]))
	}
	return maskValue(value)
}
