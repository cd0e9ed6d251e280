package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// gormLog routes GORM output to slog and flags slow queries.
type gormLog struct {
	slow time.Duration
}

func newGormLog() gormLogger.Interface {
	return &gormLog{slow: 300 * time.Millisecond}
}

func (l *gormLog) LogMode(gormLogger.LogLevel) gormLogger.Interface { return l }

func (l *gormLog) Info(ctx context.Context, msg string, data ...any) {
	slog.InfoContext(ctx, "gorm", "msg", msg, "data", data)
}

func (l *gormLog) Warn(ctx context.Context, msg string, data ...any) {
	slog.WarnContext(ctx, "gorm", "msg", msg, "data", data)
}

func (l *gormLog) Error(ctx context.Context, msg string, data ...any) {
	slog.ErrorContext(ctx, "gorm", "msg", msg, "data", data)
}

func (l *gormLog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		slog.ErrorContext(ctx, "gorm query failed", "elapsed", elapsed, "rows", rows, "sql", sql, "err", err)
	case l.slow > 0 && elapsed > l.slow:
		slog.WarnContext(ctx, "gorm slow query", "elapsed", elapsed, "rows", rows, "sql", sql)
	default:
		slog.DebugContext(ctx, "gorm query", "elapsed", elapsed, "rows", rows, "sql", sql)
	}
}
