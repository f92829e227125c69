// control.go: JSON control messages accepted on the control topic.
package mqtt

import (
	"encoding/json"
	"log/slog"

	"github.com/tphakala/btsink-go/internal/audio"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/observability/metrics"
)

// Command names accepted on the control topic.
const (
	CommandSetVolume  = "set_volume"
	CommandSetControl = "set_control"
	CommandSetEQ      = "set_eq"
	CommandPlayCue    = "play_cue"
	CommandMuteCues   = "mute_cues"
)

// Controller is the slice of the playback engine a remote control
// surface may drive.
type Controller interface {
	SetVolume(volume int)
	ApplyControlByte(b byte)
	SetEQ(bassDB, midDB, trebleDB float64) error
	SetCueMuted(muted bool)
	PlayCue(typ audio.SoundType, mode audio.PlayMode) error
}

// ControlMessage is the JSON payload accepted on the control topic.
// Numeric and boolean fields use pointers so an absent field is
// distinguishable from a zero value.
type ControlMessage struct {
	Command string   `json:"command"`
	Value   *int     `json:"value,omitempty"`  // set_volume, set_control
	Bass    *float64 `json:"bass,omitempty"`   // set_eq, gain in dB
	Mid     *float64 `json:"mid,omitempty"`    // set_eq, gain in dB
	Treble  *float64 `json:"treble,omitempty"` // set_eq, gain in dB
	Sound   string   `json:"sound,omitempty"`  // play_cue
	Mode    string   `json:"mode,omitempty"`   // play_cue, "overlay" or "exclusive"
	Muted   *bool    `json:"muted,omitempty"`  // mute_cues
}

// ControlHandler decodes control messages and applies them to the engine.
type ControlHandler struct {
	controller Controller
	metrics    *metrics.MQTTMetrics
	log        *slog.Logger
}

// NewControlHandler wires a controller to the control topic. Metrics may
// be nil.
func NewControlHandler(controller Controller, m *metrics.MQTTMetrics) *ControlHandler {
	return &ControlHandler{
		controller: controller,
		metrics:    m,
		log:        mqttLogger,
	}
}

// Handle is the MessageHandler for the control topic. Rejected messages
// are counted and logged but never propagate; a malformed remote
// command must not disturb playback.
func (h *ControlHandler) Handle(topic string, payload []byte) {
	if err := h.Apply(payload); err != nil {
		if h.metrics != nil {
			h.metrics.RecordControlParseError()
		}
		h.log.Warn("Rejected control message", "topic", topic, "error", err)
		return
	}
	h.log.Debug("Applied control message", "topic", topic)
}

// Apply decodes a single control message and applies it to the controller.
func (h *ControlHandler) Apply(payload []byte) error {
	var msg ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Build()
	}

	switch msg.Command {
	case CommandSetVolume:
		if msg.Value == nil {
			return errors.Newf("%s requires a value", CommandSetVolume).
				Component("mqtt").
				Category(errors.CategoryValidation).
				Build()
		}
		h.controller.SetVolume(*msg.Value)

	case CommandSetControl:
		if msg.Value == nil {
			return errors.Newf("%s requires a value", CommandSetControl).
				Component("mqtt").
				Category(errors.CategoryValidation).
				Build()
		}
		if *msg.Value < 0 || *msg.Value > 255 {
			return errors.Newf("control byte out of range: %d", *msg.Value).
				Component("mqtt").
				Category(errors.CategoryValidation).
				Build()
		}
		h.controller.ApplyControlByte(byte(*msg.Value))

	case CommandSetEQ:
		if msg.Bass == nil || msg.Mid == nil || msg.Treble == nil {
			return errors.Newf("%s requires bass, mid and treble gains", CommandSetEQ).
				Component("mqtt").
				Category(errors.CategoryValidation).
				Build()
		}
		if err := h.controller.SetEQ(*msg.Bass, *msg.Mid, *msg.Treble); err != nil {
			return err
		}

	case CommandPlayCue:
		typ, err := audio.ParseSoundType(msg.Sound)
		if err != nil {
			return err
		}
		mode := audio.PlayOverlay
		if msg.Mode != "" {
			if mode, err = audio.ParsePlayMode(msg.Mode); err != nil {
				return err
			}
		}
		if err := h.controller.PlayCue(typ, mode); err != nil {
			return err
		}

	case CommandMuteCues:
		if msg.Muted == nil {
			return errors.Newf("%s requires a muted flag", CommandMuteCues).
				Component("mqtt").
				Category(errors.CategoryValidation).
				Build()
		}
		h.controller.SetCueMuted(*msg.Muted)

	default:
		return errors.Newf("unknown control command: %q", msg.Command).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Build()
	}

	if h.metrics != nil {
		h.metrics.RecordControlMessage(msg.Command)
	}
	return nil
}
