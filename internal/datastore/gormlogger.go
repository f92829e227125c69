package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
	"github.com/tphakala/btsink-go/internal/observability/metrics"
)

// slowQueryThreshold marks queries worth a warning. Snapshot inserts on
// an SD card can take tens of milliseconds; one second means trouble.
const slowQueryThreshold = time.Second

// GormLogger bridges GORM's logging into the structured service logger
// and the datastore metrics.
type GormLogger struct {
	log           *slog.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	metrics       *metrics.DatastoreMetrics
}

func newGormLogger(m *metrics.DatastoreMetrics) *GormLogger {
	return &GormLogger{
		log:           logging.ForService("datastore"),
		level:         gormlogger.Warn,
		slowThreshold: slowQueryThreshold,
		metrics:       m,
	}
}

// LogMode implements gormlogger.Interface.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

// Info implements gormlogger.Interface.
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Warn implements gormlogger.Interface.
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Error implements gormlogger.Interface.
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.ErrorContext(ctx, "gorm error", "msg", fmt.Sprintf(msg, data...))
	}
}

// Trace implements gormlogger.Interface, logging failed and slow queries.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.log.ErrorContext(ctx, "query failed",
			"error", err,
			"sql", sql,
			"duration", elapsed,
			"rows", rows)
		if l.metrics != nil {
			l.metrics.RecordError(sqlOperation(sql))
		}
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		l.log.WarnContext(ctx, "slow query",
			"sql", sql,
			"duration", elapsed,
			"rows", rows,
			"threshold", l.slowThreshold)
	case l.level >= gormlogger.Info:
		l.log.DebugContext(ctx, "query executed",
			"sql", sql,
			"duration", elapsed,
			"rows", rows)
	}
}

// sqlOperation extracts the leading verb of a statement for labeling.
func sqlOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
