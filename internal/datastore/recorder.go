package datastore

import (
	"context"
	"log/slog"
	"time"

	"github.com/tphakala/btsink-go/internal/engine"
	"github.com/tphakala/btsink-go/internal/logging"
)

// opTimeout bounds the store calls made from engine callbacks.
const opTimeout = 5 * time.Second

// StatusSource supplies engine snapshots for periodic persistence.
type StatusSource interface {
	Status() engine.Status
}

// Recorder subscribes to engine sessions and samples its status into
// the store on a fixed interval. It implements engine.SessionListener.
type Recorder struct {
	store    Interface
	log      *slog.Logger
	interval time.Duration
}

// NewRecorder returns a recorder persisting to store every interval.
// An interval of zero disables the snapshot loop; session records are
// still written.
func NewRecorder(store Interface, interval time.Duration) *Recorder {
	return &Recorder{
		store:    store,
		log:      logging.ForService("datastore"),
		interval: interval,
	}
}

// SessionStarted persists the new session row.
func (r *Recorder) SessionStarted(s engine.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.store.SaveSession(ctx, sessionRecord(&s)); err != nil {
		r.log.Error("session insert failed", "session", s.ID, "error", err)
	}
}

// SessionEnded stamps the disconnect time and final codec.
func (r *Recorder) SessionEnded(s engine.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rec := sessionRecord(&s)
	if err := r.store.CloseSession(ctx, rec); err != nil {
		r.log.Error("session close failed", "session", s.ID, "error", err)
	}
}

func sessionRecord(s *engine.Session) *DeviceSession {
	rec := &DeviceSession{
		SessionID:   s.ID,
		Device:      s.Device,
		CodecName:   s.Codec.Name,
		SampleRate:  s.Codec.SampleRate,
		BitDepth:    s.Codec.BitDepth,
		Channels:    s.Codec.Channels,
		ConnectedAt: s.ConnectedAt,
	}
	if !s.DisconnectedAt.IsZero() {
		t := s.DisconnectedAt
		rec.DisconnectedAt = &t
	}
	return rec
}

// Run samples the source into the store until ctx is canceled. Samples
// are only taken while a device is connected; idle time produces no
// rows.
func (r *Recorder) Run(ctx context.Context, source StatusSource) error {
	if r.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sample(ctx, source)
		}
	}
}

func (r *Recorder) sample(ctx context.Context, source StatusSource) {
	status := source.Status()
	if !status.Connected {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.store.SaveSnapshot(opCtx, snapshotRecord(&status)); err != nil {
		r.log.Error("snapshot insert failed", "error", err)
	}
}

func snapshotRecord(status *engine.Status) *StatsSnapshot {
	return &StatsSnapshot{
		SessionID:        status.Session.ID,
		Streaming:        status.Streaming,
		SampleRate:       status.SampleRate,
		Volume:           status.Volume,
		ControlByte:      status.ControlByte,
		Dropped:          status.Pipeline.Dropped,
		EnqueueFailed:    status.Pipeline.EnqueueFailed,
		ShortWrites:      status.Pipeline.ShortWrites,
		Writes:           status.Pipeline.Writes,
		QueueFillPercent: status.Pipeline.QueueFillPercent,
		DuckGain:         status.DuckGain,
		Band30DB:         status.Analysis.BandDB[0],
		Band60DB:         status.Analysis.BandDB[1],
		Band100DB:        status.Analysis.BandDB[2],
		Peak30DB:         status.Analysis.PeakDB[0],
		Peak60DB:         status.Analysis.PeakDB[1],
		Peak100DB:        status.Analysis.PeakDB[2],
	}
}
