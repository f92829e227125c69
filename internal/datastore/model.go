// model.go defines the persisted records: device sessions and periodic
// pipeline statistics snapshots.
package datastore

import "time"

// DeviceSession is one Bluetooth connection from connect to disconnect.
// Codec fields hold the last announced stream format; DisconnectedAt is
// nil while the session is open.
type DeviceSession struct {
	ID             uint   `gorm:"primaryKey"`
	SessionID      string `gorm:"uniqueIndex;size:36;not null"`
	Device         string `gorm:"index:idx_sessions_device;size:64"`
	CodecName      string `gorm:"size:32"`
	SampleRate     int
	BitDepth       int
	Channels       int
	ConnectedAt    time.Time `gorm:"index:idx_sessions_connected"`
	DisconnectedAt *time.Time
}

// StatsSnapshot is a periodic sample of the render counters and analyzer
// levels, taken while a device is connected. Counters are cumulative
// since engine start; consumers diff consecutive rows for rates.
type StatsSnapshot struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index:idx_snapshots_created"`
	SessionID string    `gorm:"index:idx_snapshots_session;size:36"`

	Streaming   bool
	SampleRate  int
	Volume      int
	ControlByte uint8

	Dropped          uint64
	EnqueueFailed    uint64
	ShortWrites      uint64
	Writes           uint64
	QueueFillPercent int
	DuckGain         float64

	Band30DB  float64
	Band60DB  float64
	Band100DB float64
	Peak30DB  float64
	Peak60DB  float64
	Peak100DB float64
}
