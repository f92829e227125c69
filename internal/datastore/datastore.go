// Package datastore persists device sessions and pipeline statistics
// snapshots to SQLite or MySQL through GORM.
package datastore

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
	"github.com/tphakala/btsink-go/internal/observability/metrics"
)

// Interface abstracts the database backend so callers stay independent
// of the configured driver.
type Interface interface {
	Open() error
	Close() error

	SaveSession(ctx context.Context, s *DeviceSession) error
	CloseSession(ctx context.Context, s *DeviceSession) error
	SaveSnapshot(ctx context.Context, snap *StatsSnapshot) error

	RecentSessions(ctx context.Context, limit int) ([]DeviceSession, error)
	SnapshotsSince(ctx context.Context, since time.Time, limit int) ([]StatsSnapshot, error)
	PruneSnapshots(ctx context.Context, olderThan time.Time) (int64, error)
}

// DataStore carries the shared GORM handle and helpers embedded by the
// driver-specific stores.
type DataStore struct {
	DB       *gorm.DB
	Settings *conf.Settings

	log     *slog.Logger
	metrics *metrics.DatastoreMetrics
}

// New creates the configured store. SQLite is the default; MySQL takes
// precedence when enabled. metrics may be nil.
func New(settings *conf.Settings, m *metrics.DatastoreMetrics) (Interface, error) {
	if settings == nil {
		return nil, errors.Newf("datastore requires settings").
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}

	base := DataStore{
		Settings: settings,
		log:      logging.ForService("datastore"),
		metrics:  m,
	}

	switch {
	case settings.Datastore.MySQL.Enabled:
		return &MySQLStore{DataStore: base}, nil
	case settings.Datastore.SQLite.Enabled:
		return &SQLiteStore{DataStore: base}, nil
	default:
		return nil, errors.Newf("no datastore backend enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_datastore").
			Build()
	}
}

// performAutoMigration creates or upgrades the schema for both models.
func performAutoMigration(db *gorm.DB, dbType string) error {
	if err := db.AutoMigrate(&DeviceSession{}, &StatsSnapshot{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migration").
			Context("db_type", dbType).
			Build()
	}
	return nil
}

// observe records the outcome and duration of one store operation.
func (ds *DataStore) observe(op string, start time.Time, err error) {
	if ds.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		ds.metrics.RecordError(op)
	}
	ds.metrics.RecordOperation(op, status, time.Since(start).Seconds())
}

func (ds *DataStore) ready() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

// SaveSession inserts a new session row when a device connects.
func (ds *DataStore) SaveSession(ctx context.Context, s *DeviceSession) error {
	if err := ds.ready(); err != nil {
		return err
	}
	start := time.Now()
	err := ds.DB.WithContext(ctx).Create(s).Error
	ds.observe("save_session", start, err)
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_session").
			Context("session_id", s.SessionID).
			Build()
	}
	return nil
}

// CloseSession stamps the disconnect time and final codec on an open
// session, matched by its session ID.
func (ds *DataStore) CloseSession(ctx context.Context, s *DeviceSession) error {
	if err := ds.ready(); err != nil {
		return err
	}
	start := time.Now()
	err := ds.DB.WithContext(ctx).
		Model(&DeviceSession{}).
		Where("session_id = ?", s.SessionID).
		Updates(map[string]any{
			"disconnected_at": s.DisconnectedAt,
			"codec_name":      s.CodecName,
			"sample_rate":     s.SampleRate,
			"bit_depth":       s.BitDepth,
			"channels":        s.Channels,
		}).Error
	ds.observe("close_session", start, err)
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "close_session").
			Context("session_id", s.SessionID).
			Build()
	}
	return nil
}

// SaveSnapshot appends one statistics sample.
func (ds *DataStore) SaveSnapshot(ctx context.Context, snap *StatsSnapshot) error {
	if err := ds.ready(); err != nil {
		return err
	}
	start := time.Now()
	err := ds.DB.WithContext(ctx).Create(snap).Error
	ds.observe("save_snapshot", start, err)
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_snapshot").
			Build()
	}
	if ds.metrics != nil {
		ds.metrics.RecordSnapshot()
	}
	return nil
}

// RecentSessions returns sessions ordered newest first.
func (ds *DataStore) RecentSessions(ctx context.Context, limit int) ([]DeviceSession, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 25
	}
	start := time.Now()
	var sessions []DeviceSession
	err := ds.DB.WithContext(ctx).
		Order("connected_at DESC").
		Limit(limit).
		Find(&sessions).Error
	ds.observe("recent_sessions", start, err)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "recent_sessions").
			Build()
	}
	return sessions, nil
}

// SnapshotsSince returns snapshots taken at or after the given time,
// oldest first, capped at limit rows.
func (ds *DataStore) SnapshotsSince(ctx context.Context, since time.Time, limit int) ([]StatsSnapshot, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	start := time.Now()
	var snaps []StatsSnapshot
	err := ds.DB.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Limit(limit).
		Find(&snaps).Error
	ds.observe("snapshots_since", start, err)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "snapshots_since").
			Build()
	}
	return snaps, nil
}

// PruneSnapshots deletes snapshots older than the cutoff and reports how
// many rows went away.
func (ds *DataStore) PruneSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ds.ready(); err != nil {
		return 0, err
	}
	start := time.Now()
	res := ds.DB.WithContext(ctx).
		Where("created_at < ?", olderThan).
		Delete(&StatsSnapshot{})
	ds.observe("prune_snapshots", start, res.Error)
	if res.Error != nil {
		return 0, errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "prune_snapshots").
			Build()
	}
	if res.RowsAffected > 0 {
		ds.log.Info("pruned snapshots", "rows", res.RowsAffected, "older_than", olderThan)
	}
	return res.RowsAffected, nil
}
