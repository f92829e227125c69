// conf/validate.go

package conf

import (
	"fmt"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateDSPSettings(&settings.DSP); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOverlaySettings(&settings.Overlay); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateAPISettings(&settings.API); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMQTTSettings(&settings.MQTT); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateQuietHoursSettings(&settings.QuietHours); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}

	return nil
}

func validateAudioSettings(audio *AudioSettings) error {
	if audio.PoolBuffers < 2 {
		return fmt.Errorf("audio.poolbuffers must be at least 2, got %d", audio.PoolBuffers)
	}

	if audio.BufferSize < 256 || audio.BufferSize%4 != 0 {
		return fmt.Errorf("audio.buffersize must be at least 256 and a multiple of 4, got %d", audio.BufferSize)
	}

	if audio.FrameBudget < 64 {
		return fmt.Errorf("audio.framebudget must be at least 64, got %d", audio.FrameBudget)
	}

	if !validSampleRate(audio.DefaultSampleRate) {
		return fmt.Errorf("audio.defaultsamplerate %d is not a supported rate", audio.DefaultSampleRate)
	}

	if audio.WriteTimeout <= 0 {
		return fmt.Errorf("audio.writetimeout must be positive, got %v", audio.WriteTimeout)
	}

	return nil
}

func validateDSPSettings(dsp *DSPSettings) error {
	for name, gain := range map[string]float64{
		"bass":   dsp.Equalizer.Bass,
		"mid":    dsp.Equalizer.Mid,
		"treble": dsp.Equalizer.Treble,
	} {
		if gain < -24.0 || gain > 24.0 {
			return fmt.Errorf("dsp.equalizer.%s gain must be between -24 and 24 dB, got %.1f", name, gain)
		}
	}

	if dsp.Volume < 0 || dsp.Volume > 127 {
		return fmt.Errorf("dsp.volume must be between 0 and 127, got %d", dsp.Volume)
	}

	if dsp.Crossover.LowPassFreq <= 0 || dsp.Crossover.HighPassFreq <= 0 {
		return fmt.Errorf("dsp.crossover frequencies must be positive")
	}

	return nil
}

func validateOverlaySettings(overlay *OverlaySettings) error {
	if overlay.RingFrames < 1024 {
		return fmt.Errorf("overlay.ringframes must be at least 1024, got %d", overlay.RingFrames)
	}

	if overlay.DuckLevel < 0.0 || overlay.DuckLevel > 1.0 {
		return fmt.Errorf("overlay.ducklevel must be between 0.0 and 1.0, got %.2f", overlay.DuckLevel)
	}

	if overlay.Volume < 0.0 || overlay.Volume > 1.0 {
		return fmt.Errorf("overlay.volume must be between 0.0 and 1.0, got %.2f", overlay.Volume)
	}

	return nil
}

func validateAPISettings(api *APISettings) error {
	if !api.Enabled {
		return nil
	}

	if api.Port < 1 || api.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", api.Port)
	}

	if api.BasicAuth.Enabled {
		if api.BasicAuth.Username == "" {
			return fmt.Errorf("api.basicauth.username must be set when basic auth is enabled")
		}
		if api.BasicAuth.PasswordHash == "" {
			return fmt.Errorf("api.basicauth.passwordhash must be set when basic auth is enabled")
		}
	}

	return nil
}

func validateMQTTSettings(mqtt *MQTTSettings) error {
	if !mqtt.Enabled {
		return nil
	}

	if mqtt.Broker == "" {
		return fmt.Errorf("mqtt.broker must be set when MQTT is enabled")
	}

	if mqtt.Topic == "" {
		return fmt.Errorf("mqtt.topic must be set when MQTT is enabled")
	}

	return nil
}

func validateQuietHoursSettings(qh *QuietHoursSettings) error {
	if !qh.Enabled {
		return nil
	}

	if qh.Latitude < -90 || qh.Latitude > 90 {
		return fmt.Errorf("quiethours.latitude must be between -90 and 90, got %.3f", qh.Latitude)
	}

	if qh.Longitude < -180 || qh.Longitude > 180 {
		return fmt.Errorf("quiethours.longitude must be between -180 and 180, got %.3f", qh.Longitude)
	}

	if qh.MaxVolume < 0 || qh.MaxVolume > 127 {
		return fmt.Errorf("quiethours.maxvolume must be between 0 and 127, got %d", qh.MaxVolume)
	}

	return nil
}

// validSampleRate reports whether the rate is one the output clock supports.
func validSampleRate(rate int) bool {
	switch rate {
	case 8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000:
		return true
	default:
		return false
	}
}
