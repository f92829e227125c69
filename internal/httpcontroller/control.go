// control.go: playback control routes, volume, EQ, control byte and cues.
package httpcontroller

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/btsink-go/internal/audio"
	"github.com/tphakala/btsink-go/internal/dsp"
	"github.com/tphakala/btsink-go/internal/engine"
)

// VolumeRequest sets the absolute playback volume.
type VolumeRequest struct {
	Volume *int `json:"volume"`
}

// VolumeResponse reports the volume as the engine holds it.
type VolumeResponse struct {
	Volume int `json:"volume"`
}

// EQRequest sets all three tone control gains in dB.
type EQRequest struct {
	Bass   *float64 `json:"bass"`
	Mid    *float64 `json:"mid"`
	Treble *float64 `json:"treble"`
}

// ControlByteRequest sets the packed control byte.
type ControlByteRequest struct {
	Value *int `json:"value"`
}

// ControlByteResponse reports the packed control byte.
type ControlByteResponse struct {
	Value int `json:"value"`
}

// CueRequest triggers a sound cue by name.
type CueRequest struct {
	Sound string `json:"sound"`
	// Mode is "overlay" (default) or "exclusive".
	Mode string `json:"mode,omitempty"`
}

// MuteRequest toggles cue sound muting.
type MuteRequest struct {
	Muted *bool `json:"muted"`
}

// ControlResult reports the outcome of a control action.
type ControlResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// GetVolume handles GET /api/v1/volume.
func (s *Server) GetVolume(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &VolumeResponse{Volume: s.engine.Volume()})
}

// UpdateVolume handles POST /api/v1/volume. The engine clamps against
// the night ceiling downstream, so the response echoes the requested
// value as stored.
func (s *Server) UpdateVolume(ctx echo.Context) error {
	var req VolumeRequest
	if err := ctx.Bind(&req); err != nil {
		return s.HandleError(ctx, err, "Invalid volume request", http.StatusBadRequest)
	}
	if req.Volume == nil {
		return s.HandleError(ctx, nil, "volume is required", http.StatusBadRequest)
	}
	if *req.Volume < 0 || *req.Volume > dsp.MaxVolume {
		return s.HandleError(ctx, nil,
			fmt.Sprintf("volume must be between 0 and %d", dsp.MaxVolume), http.StatusBadRequest)
	}

	s.engine.SetVolume(*req.Volume)
	s.apiLogger.Info("volume set", "volume", *req.Volume, "ip", ctx.RealIP())
	return ctx.JSON(http.StatusOK, &VolumeResponse{Volume: s.engine.Volume()})
}

// GetEQ handles GET /api/v1/eq.
func (s *Server) GetEQ(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.engine.Status().EQ)
}

// UpdateEQ handles POST /api/v1/eq. All three gains must be supplied,
// partial updates are not accepted.
func (s *Server) UpdateEQ(ctx echo.Context) error {
	var req EQRequest
	if err := ctx.Bind(&req); err != nil {
		return s.HandleError(ctx, err, "Invalid EQ request", http.StatusBadRequest)
	}
	if req.Bass == nil || req.Mid == nil || req.Treble == nil {
		return s.HandleError(ctx, nil, "bass, mid and treble gains are required", http.StatusBadRequest)
	}

	if err := s.engine.SetEQ(*req.Bass, *req.Mid, *req.Treble); err != nil {
		return s.HandleError(ctx, err, "EQ update rejected", http.StatusBadRequest)
	}
	s.apiLogger.Info("EQ set",
		"bass", *req.Bass, "mid", *req.Mid, "treble", *req.Treble, "ip", ctx.RealIP())
	return ctx.JSON(http.StatusOK, engine.EQStatus{
		Bass:   *req.Bass,
		Mid:    *req.Mid,
		Treble: *req.Treble,
	})
}

// GetControlByte handles GET /api/v1/control.
func (s *Server) GetControlByte(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &ControlByteResponse{Value: int(s.engine.ControlByte())})
}

// UpdateControlByte handles POST /api/v1/control.
func (s *Server) UpdateControlByte(ctx echo.Context) error {
	var req ControlByteRequest
	if err := ctx.Bind(&req); err != nil {
		return s.HandleError(ctx, err, "Invalid control request", http.StatusBadRequest)
	}
	if req.Value == nil {
		return s.HandleError(ctx, nil, "value is required", http.StatusBadRequest)
	}
	if *req.Value < 0 || *req.Value > 255 {
		return s.HandleError(ctx, nil, "value must be between 0 and 255", http.StatusBadRequest)
	}

	s.engine.ApplyControlByte(byte(*req.Value))
	s.apiLogger.Info("control byte set", "value", *req.Value, "ip", ctx.RealIP())
	return ctx.JSON(http.StatusOK, &ControlByteResponse{Value: int(s.engine.ControlByte())})
}

// TriggerCue handles POST /api/v1/cue. Cues default to overlay mode so
// a running stream keeps playing underneath the cue.
func (s *Server) TriggerCue(ctx echo.Context) error {
	var req CueRequest
	if err := ctx.Bind(&req); err != nil {
		return s.HandleError(ctx, err, "Invalid cue request", http.StatusBadRequest)
	}
	typ, err := audio.ParseSoundType(req.Sound)
	if err != nil {
		return s.HandleError(ctx, err, "Unknown cue sound", http.StatusBadRequest)
	}
	mode := audio.PlayOverlay
	if req.Mode != "" {
		mode, err = audio.ParsePlayMode(req.Mode)
		if err != nil {
			return s.HandleError(ctx, err, "Unknown cue mode", http.StatusBadRequest)
		}
	}

	if err := s.engine.PlayCue(typ, mode); err != nil {
		if stderrors.Is(err, audio.ErrPlaybackBusy) || stderrors.Is(err, audio.ErrMuted) {
			return s.HandleError(ctx, err, "Cue not played", http.StatusConflict)
		}
		return s.HandleError(ctx, err, "Cue playback failed", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, &ControlResult{
		Success:   true,
		Message:   fmt.Sprintf("Cue %s playing in %s mode", typ, mode),
		Action:    "play_cue",
		Timestamp: time.Now(),
	})
}

// UpdateCueMute handles POST /api/v1/cue/mute.
func (s *Server) UpdateCueMute(ctx echo.Context) error {
	var req MuteRequest
	if err := ctx.Bind(&req); err != nil {
		return s.HandleError(ctx, err, "Invalid mute request", http.StatusBadRequest)
	}
	if req.Muted == nil {
		return s.HandleError(ctx, nil, "muted is required", http.StatusBadRequest)
	}

	s.engine.SetCueMuted(*req.Muted)
	msg := "Cue sounds unmuted"
	if *req.Muted {
		msg = "Cue sounds muted"
	}
	return ctx.JSON(http.StatusOK, &ControlResult{
		Success:   true,
		Message:   msg,
		Action:    "mute_cues",
		Timestamp: time.Now(),
	})
}
