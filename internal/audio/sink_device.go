package audio

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
)

// deviceRingMs sizes the staging ring between the render loop and the
// device callback. Large enough to ride out brief decode stalls without
// adding noticeable extra latency.
const deviceRingMs = 350

// DeviceSink plays the rendered stream on a system output device via
// miniaudio. Writes land in a ring buffer drained by the device
// callback, so a stalled device degrades to short writes instead of
// blocking the render loop.
type DeviceSink struct {
	mu  sync.Mutex
	log *slog.Logger

	deviceName   string
	defaultRate  int
	writeTimeout time.Duration

	rate   int
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	ring   atomic.Pointer[ringbuffer.RingBuffer]

	wantRunning atomic.Bool
	reconfig    atomic.Bool
	closing     atomic.Bool
	underruns   atomic.Uint64
}

// NewDeviceSink opens the configured output device at the default
// sample rate. The device stays stopped until Start is called.
func NewDeviceSink(cfg conf.AudioSettings) (*DeviceSink, error) {
	if cfg.DefaultSampleRate < 1 {
		return nil, errors.Newf("invalid default sample rate: %d", cfg.DefaultSampleRate).
			Component("audio").
			Category(errors.CategoryValidation).
			Context("operation", "create_device_sink").
			Build()
	}

	s := &DeviceSink{
		log:          logging.ForService("audio"),
		deviceName:   cfg.Device,
		defaultRate:  cfg.DefaultSampleRate,
		writeTimeout: cfg.WriteTimeout,
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 100 * time.Millisecond
	}

	var backends []malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backends = []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		backends = []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		backends = []malgo.Backend{malgo.BackendCoreaudio}
	}

	mctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		s.log.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioOutput).
			Context("operation", "init_audio_context").
			Build()
	}
	s.mctx = mctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openDeviceLocked(cfg.DefaultSampleRate); err != nil {
		_ = s.mctx.Uninit()
		s.mctx.Free()
		return nil, err
	}
	s.rate = cfg.DefaultSampleRate

	s.log.Info("output device ready",
		"device", cfg.Device,
		"sample_rate", cfg.DefaultSampleRate)
	return s, nil
}

// openDeviceLocked builds the ring and the miniaudio device for rate.
// Caller holds s.mu.
func (s *DeviceSink) openDeviceLocked(rate int) error {
	ringBytes := rate * 8 * deviceRingMs / 1000
	s.ring.Store(ringbuffer.New(ringBytes))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS32
	deviceConfig.Playback.Channels = 2
	deviceConfig.SampleRate = uint32(rate)
	deviceConfig.Alsa.NoMMap = 1

	if s.deviceName != "" {
		id, err := s.resolvePlaybackDevice(s.deviceName)
		if err != nil {
			return err
		}
		deviceConfig.Playback.DeviceID = id
	}

	callbacks := malgo.DeviceCallbacks{
		Data: s.onSendFrames,
		Stop: s.onDeviceStop,
	}
	device, err := malgo.InitDevice(s.mctx.Context, deviceConfig, callbacks)
	if err != nil {
		s.device = nil
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioOutput).
			Context("operation", "init_playback_device").
			Context("sample_rate", rate).
			Build()
	}
	s.device = device
	return nil
}

// resolvePlaybackDevice matches the configured name against the
// available playback devices.
func (s *DeviceSink) resolvePlaybackDevice(name string) (unsafe.Pointer, error) {
	infos, err := s.mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioOutput).
			Context("operation", "enumerate_playback_devices").
			Build()
	}
	for i := range infos {
		if strings.Contains(infos[i].Name(), name) {
			return infos[i].ID.Pointer(), nil
		}
	}
	for i := range infos {
		s.log.Debug("available playback device", "name", infos[i].Name())
	}
	return nil, errors.Newf("no playback device matches %q", name).
		Component("audio").
		Category(errors.CategoryNotFound).
		Context("operation", "resolve_playback_device").
		Build()
}

// onSendFrames feeds the device from the ring, padding with silence
// when the render loop has fallen behind.
func (s *DeviceSink) onSendFrames(pOutput, pInput []byte, frameCount uint32) {
	ring := s.ring.Load()
	if ring == nil {
		clear(pOutput)
		return
	}
	n, _ := ring.Read(pOutput)
	if n < len(pOutput) {
		clear(pOutput[n:])
		if n > 0 {
			s.underruns.Add(1)
		}
	}
}

// onDeviceStop restarts the device after an unexpected stop, such as a
// backend hiccup or a default-device change.
func (s *DeviceSink) onDeviceStop() {
	if !s.wantRunning.Load() || s.closing.Load() || s.reconfig.Load() {
		return
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		if !s.wantRunning.Load() || s.closing.Load() {
			return
		}
		s.mu.Lock()
		device := s.device
		s.mu.Unlock()
		if device == nil {
			return
		}
		if err := device.Start(); err != nil {
			s.log.Error("failed to restart output device", "error", err)
			return
		}
		s.log.Info("output device restarted")
	}()
}

func (s *DeviceSink) Write(ctx context.Context, data []byte) (int, error) {
	if s.closing.Load() || s.reconfig.Load() || !s.wantRunning.Load() {
		return 0, nil
	}
	ring := s.ring.Load()
	if ring == nil {
		return 0, nil
	}

	total := 0
	deadline := time.Now().Add(s.writeTimeout)
	for total < len(data) {
		n, err := ring.Write(data[total:])
		total += n
		if err == nil {
			break
		}
		if !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
			return total, errors.New(err).
				Component("audio").
				Category(errors.CategoryAudioOutput).
				Context("operation", "sink_write").
				Build()
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return total, nil
}

func (s *DeviceSink) ZeroDMA() {
	if ring := s.ring.Load(); ring != nil {
		ring.Reset()
	}
}

func (s *DeviceSink) UpdateClock(sampleRate int) error {
	if sampleRate == 0 {
		sampleRate = s.defaultRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sampleRate == s.rate {
		return nil
	}

	s.reconfig.Store(true)
	defer s.reconfig.Store(false)

	wasRunning := s.wantRunning.Load()
	if s.device != nil {
		s.wantRunning.Store(false)
		_ = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}

	if err := s.openDeviceLocked(sampleRate); err != nil {
		return err
	}
	s.rate = sampleRate

	if wasRunning {
		s.wantRunning.Store(true)
		if err := s.device.Start(); err != nil {
			s.wantRunning.Store(false)
			return errors.New(err).
				Component("audio").
				Category(errors.CategoryAudioOutput).
				Context("operation", "restart_after_clock_change").
				Context("sample_rate", sampleRate).
				Build()
		}
	}

	s.log.Info("output clock updated", "sample_rate", sampleRate)
	return nil
}

func (s *DeviceSink) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *DeviceSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return errors.Newf("output device not initialized").
			Component("audio").
			Category(errors.CategoryState).
			Context("operation", "start_device").
			Build()
	}
	if s.wantRunning.Load() {
		return nil
	}
	s.wantRunning.Store(true)
	if err := s.device.Start(); err != nil {
		s.wantRunning.Store(false)
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioOutput).
			Context("operation", "start_device").
			Build()
	}
	return nil
}

func (s *DeviceSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil || !s.wantRunning.Load() {
		return nil
	}
	s.wantRunning.Store(false)
	if err := s.device.Stop(); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioOutput).
			Context("operation", "stop_device").
			Build()
	}
	return nil
}

func (s *DeviceSink) ResetToDefault() error {
	if err := s.UpdateClock(0); err != nil {
		return err
	}
	s.ZeroDMA()
	return nil
}

// Underruns reports how often the device callback ran dry mid-stream.
func (s *DeviceSink) Underruns() uint64 {
	return s.underruns.Load()
}

// Close stops the device and releases the miniaudio context.
func (s *DeviceSink) Close() error {
	s.closing.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wantRunning.Store(false)
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.mctx != nil {
		_ = s.mctx.Uninit()
		s.mctx.Free()
		s.mctx = nil
	}
	return nil
}
