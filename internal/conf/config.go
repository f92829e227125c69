// config.go: btsink configuration structures and loading
package conf

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// Log rotation types for file loggers.
const (
	RotationDaily  = "daily"
	RotationWeekly = "weekly"
	RotationSize   = "size"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled    bool   `yaml:"enabled"`    // true to enable this log
	Path       string `yaml:"path"`       // Path to the log file
	Rotation   string `yaml:"rotation"`   // Log rotation type
	MaxSize    int64  `yaml:"maxsize"`    // Max log size in bytes for size rotation
	MaxBackups int    `yaml:"maxbackups"` // Number of rotated files to keep
	MaxAge     int    `yaml:"maxage"`     // Days to keep rotated files
}

// MainSettings contains main configuration settings
type MainSettings struct {
	Name string    `yaml:"name"` // Name of this node, used as MQTT client id etc.
	Log  LogConfig `yaml:"log"`  // Main log configuration
}

// AudioSettings contains the buffer pool, pipeline and output device settings
type AudioSettings struct {
	PoolBuffers       int           `yaml:"poolbuffers"`       // Number of buffers in the pool
	BufferSize        int           `yaml:"buffersize"`        // Capacity of one pool buffer in bytes
	FrameBudget       int           `yaml:"framebudget"`       // Max stereo frames per DSP pass
	DefaultSampleRate int           `yaml:"defaultsamplerate"` // Sample rate used before a stream configures one
	UseStaging        bool          `yaml:"usestaging"`        // Copy payloads to a staging buffer before DSP
	SwapChannels      bool          `yaml:"swapchannels"`      // Swap L/R before the sink write
	Device            string        `yaml:"device"`            // Output device name, empty for system default
	WriteTimeout      time.Duration `yaml:"writetimeout"`      // Max time a sink write may block
}

// EqualizerSettings contains the three-band equalizer gains in dB
type EqualizerSettings struct {
	Bass   float64 `yaml:"bass"`   // Low shelf gain
	Mid    float64 `yaml:"mid"`    // Peaking gain
	Treble float64 `yaml:"treble"` // High shelf gain
}

// CrossoverSettings contains the split-ear crossover configuration
type CrossoverSettings struct {
	LowPassFreq  float64 `yaml:"lowpassfreq"`  // Crossover low-pass corner
	HighPassFreq float64 `yaml:"highpassfreq"` // Crossover high-pass corner
	BassBoost    bool    `yaml:"bassboost"`    // Extra shelf on the low-passed path
	BoostFreq    float64 `yaml:"boostfreq"`    // Bass boost shelf corner
	BoostGain    float64 `yaml:"boostgain"`    // Bass boost shelf gain in dB
	Flip         bool    `yaml:"flip"`         // Route lows to the right ear instead of the left
}

// DSPSettings contains the signal chain configuration
type DSPSettings struct {
	Equalizer EqualizerSettings `yaml:"equalizer"`
	BassComp  bool              `yaml:"basscomp"` // Volume-based bass compensation
	Spatial   bool              `yaml:"spatial"`  // Stage-presence widening processor
	Analysis  bool              `yaml:"analysis"` // Band energy detector and peak meter taps
	Bypass    bool              `yaml:"bypass"`   // Skip the crossover stage
	Crossover CrossoverSettings `yaml:"crossover"`
	Volume    int               `yaml:"volume"` // Initial playback volume, 0-127
}

// OverlaySettings contains the secondary-sound mixer configuration
type OverlaySettings struct {
	RingFrames int           `yaml:"ringframes"` // Capacity of the overlay ring in stereo frames
	DuckLevel  float64       `yaml:"ducklevel"`  // Primary stream gain while an overlay plays, 0..1
	SoundsDir  string        `yaml:"soundsdir"`  // Directory with wav/flac chime files
	CacheTTL   time.Duration `yaml:"cachettl"`   // How long decoded chimes stay cached
	Volume     float64       `yaml:"volume"`     // Overlay gain, 0..1
}

// BasicAuthSettings contains optional HTTP basic auth for the control API
type BasicAuthSettings struct {
	Enabled      bool   `yaml:"enabled"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"passwordhash"` // bcrypt hash
}

// APISettings contains the control API server configuration
type APISettings struct {
	Enabled   bool              `yaml:"enabled"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	RateLimit int               `yaml:"ratelimit"` // Requests per second per client
	BasicAuth BasicAuthSettings `yaml:"basicauth"`
}

// MQTTSettings contains the telemetry publisher and control subscriber configuration
type MQTTSettings struct {
	Enabled      bool          `yaml:"enabled"`
	Broker       string        `yaml:"broker"` // tcp://host:port or ssl://host:port
	Topic        string        `yaml:"topic"`  // Base topic, e.g. btsink
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Retain       bool          `yaml:"retain"`
	Interval     time.Duration `yaml:"interval"`     // Telemetry publish interval
	ControlTopic string        `yaml:"controltopic"` // Topic for inbound control messages
	Discovery    bool          `yaml:"discovery"`    // Publish Home Assistant discovery configs
}

// SQLiteSettings contains SQLite datastore configuration
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MySQLSettings contains MySQL datastore configuration
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// DatastoreSettings contains the session log database configuration
type DatastoreSettings struct {
	SnapshotInterval time.Duration  `yaml:"snapshotinterval"` // Stats snapshot period, 0 disables
	SQLite           SQLiteSettings `yaml:"sqlite"`
	MySQL            MySQLSettings  `yaml:"mysql"`
}

// MonitorSettings contains system resource monitoring configuration
type MonitorSettings struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	CPUWarning  float64       `yaml:"cpuwarning"`  // Percent
	MemWarning  float64       `yaml:"memwarning"`  // Percent
	DropWarning uint64        `yaml:"dropwarning"` // Dropped buffers per interval worth warning about
}

// NotifySettings contains push notification configuration
type NotifySettings struct {
	Enabled     bool          `yaml:"enabled"`
	URLs        []string      `yaml:"urls"`        // Shoutrrr service URLs
	MinInterval time.Duration `yaml:"mininterval"` // Suppress repeats within this window
}

// QuietHoursSettings enables the dusk-to-dawn night preset
type QuietHoursSettings struct {
	Enabled       bool    `yaml:"enabled"`
	Latitude      float64 `yaml:"latitude"`
	Longitude     float64 `yaml:"longitude"`
	MaxVolume     int     `yaml:"maxvolume"`     // Volume ceiling during quiet hours, 0-127
	BassReduction float64 `yaml:"bassreduction"` // dB subtracted from the bass shelf at night
}

// SentrySettings contains error telemetry configuration
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"` // Opt-in
	DSN     string `yaml:"dsn"`
}

// Settings contains all configuration options for btsink
type Settings struct {
	Debug bool `yaml:"debug"` // true to enable debug logging

	Version   string `yaml:"-"` // Version from build info
	BuildDate string `yaml:"-"` // Build date from build info
	SystemID  string `yaml:"-"` // Anonymous install identifier for telemetry

	Main       MainSettings       `yaml:"main"`
	Audio      AudioSettings      `yaml:"audio"`
	DSP        DSPSettings        `yaml:"dsp"`
	Overlay    OverlaySettings    `yaml:"overlay"`
	API        APISettings        `yaml:"api"`
	MQTT       MQTTSettings       `yaml:"mqtt"`
	Datastore  DatastoreSettings  `yaml:"datastore"`
	Monitor    MonitorSettings    `yaml:"monitor"`
	Notify     NotifySettings     `yaml:"notify"`
	QuietHours QuietHoursSettings `yaml:"quiethours"`
	Sentry     SentrySettings     `yaml:"sentry"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Defaults defined in defaults.go
	setDefaultConfig()

	// Environment overrides defined in env.go, invalid values are
	// reported but do not stop startup.
	if err := configureEnvironmentVariables(); err != nil {
		log.Printf("Environment variable configuration: %v", err)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveSettings saves the current settings to the configuration file.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	settingsCopy := *settingsInstance

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	return nil
}

// SaveYAMLConfig updates the YAML configuration file with new settings.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temporary file first for an atomic replace
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// Rename can fail across filesystems, fall back to copy and delete
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// GenerateRandomSecret generates a URL-safe base64 encoded random string
// suitable for use as a client secret. The output is 43 characters long,
// providing 256 bits of entropy.
func GenerateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Printf("Failed to generate random secret: %v", err)
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
