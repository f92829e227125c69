// env.go - environment variable overrides for containerized deployments
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation.
// Secrets (broker credentials, database password, DSN) are bound so they
// can stay out of the config file on shared systems.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "BTSINK_DEBUG", validateEnvBool},
		{"main.name", "BTSINK_NAME", nil},

		{"audio.device", "BTSINK_AUDIO_DEVICE", nil},

		{"dsp.volume", "BTSINK_VOLUME", validateEnvVolume},

		{"api.host", "BTSINK_API_HOST", nil},
		{"api.port", "BTSINK_API_PORT", validateEnvPort},

		{"mqtt.broker", "BTSINK_MQTT_BROKER", validateEnvBroker},
		{"mqtt.username", "BTSINK_MQTT_USERNAME", nil},
		{"mqtt.password", "BTSINK_MQTT_PASSWORD", nil},

		{"datastore.mysql.password", "BTSINK_MYSQL_PASSWORD", nil},

		{"quiethours.latitude", "BTSINK_LATITUDE", validateEnvLatitude},
		{"quiethours.longitude", "BTSINK_LONGITUDE", validateEnvLongitude},

		{"sentry.dsn", "BTSINK_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvVolume(value string) error {
	vol, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid volume: %w", err)
	}
	if vol < 0 || vol > 127 {
		return fmt.Errorf("volume must be between 0 and 127, got %d", vol)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvBroker(value string) error {
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if strings.HasPrefix(value, scheme) {
			return nil
		}
	}
	return fmt.Errorf("broker must start with tcp://, ssl://, ws://, wss://, mqtt:// or mqtts://, got '%s'", value)
}

func validateEnvLatitude(value string) error {
	lat, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid latitude: %w", err)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %g", lat)
	}
	return nil
}

func validateEnvLongitude(value string) error {
	lng, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid longitude: %w", err)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %g", lng)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
