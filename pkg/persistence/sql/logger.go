package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLoggerAdapter adapts zap.Logger to gorm's logger interface
type gormLoggerAdapter struct {
	logger *zap.Logger
	level  gormlogger.LogLevel
}

// Ensure gormLoggerAdapter implements gorm's logger.Interface
var _ gormlogger.Interface = (*gormLoggerAdapter)(nil)

func (g *gormLoggerAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLoggerAdapter{logger: g.logger, level: level}
}

func (g *gormLoggerAdapter) Info(_ context.Context, format string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		g.logger.Info(fmt.Sprintf(format, args...))
	}
}

func (g *gormLoggerAdapter) Warn(_ context.Context, format string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.logger.Warn(fmt.Sprintf(format, args...))
	}
}

func (g *gormLoggerAdapter) Error(_ context.Context, format string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		g.logger.Error(fmt.Sprintf(format, args...))
	}
}

// Trace logs failed and slow statements; record-not-found is an expected outcome here
func (g *gormLoggerAdapter) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		statement, rows := fc()
		g.logger.Sugar().Errorw("SQL statement failed", "sql", statement, "rows", rows, "elapsed", elapsed, "error", err)
	case elapsed > slowQueryThreshold && g.level >= gormlogger.Warn:
		statement, rows := fc()
		g.logger.Sugar().Warnw("Slow SQL statement", "sql", statement, "rows", rows, "elapsed", elapsed)
	case g.level >= gormlogger.Info:
		statement, rows := fc()
		g.logger.Sugar().Debugw("SQL statement", "sql", statement, "rows", rows, "elapsed", elapsed)
	}
}
