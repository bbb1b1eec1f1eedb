package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	"licensed/internal/config"
)

// Dialector picks the gorm driver for cfg.Driver.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

// OpenDatabase connects with retries and applies pool settings.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	gormLogger := NewSlogGormLogger(log, logger.Warn)
	gormLogger.SlowThreshold = cfg.SlowThreshold

	var db *gorm.DB
	for attempt := 1; attempt <= 5; attempt++ {
		db, err = gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
		if err == nil {
			break
		}
		log.WarnContext(ctx, "Database not ready, retrying",
			slog.Int("attempt", attempt),
			slog.String("driver", cfg.Driver),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB from gorm: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	log.InfoContext(ctx, "Database connection configured",
		slog.String("driver", cfg.Driver),
		slog.Int("max_open_conns", cfg.MaxOpenConns))

	return db, nil
}

// CloseDatabase closes the pool behind db.
func CloseDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SlogGormLogger implements gorm.io/gorm/logger.Interface on slog.
type SlogGormLogger struct {
	Logger        *slog.Logger
	SlowThreshold time.Duration
	LogLevel      logger.LogLevel
}

// NewSlogGormLogger returns a gorm logger writing through log.
func NewSlogGormLogger(log *slog.Logger, level logger.LogLevel) *SlogGormLogger {
	return &SlogGormLogger{
		Logger:        log,
		LogLevel:      level,
		SlowThreshold: 200 * time.Millisecond,
	}
}

func (l *SlogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *SlogGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Info {
		l.Logger.InfoContext(ctx, fmt.Sprintf(msg, data...), slog.String("component", "gorm"))
	}
}

func (l *SlogGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Warn {
		l.Logger.WarnContext(ctx, fmt.Sprintf(msg, data...), slog.String("component", "gorm"))
	}
}

func (l *SlogGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Error {
		l.Logger.ErrorContext(ctx, fmt.Sprintf(msg, data...), slog.String("component", "gorm"))
	}
}

func (l *SlogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	attrs := []slog.Attr{
		slog.String("component", "gorm"),
		slog.String("file", utils.FileWithLineNum()),
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	}

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.LogAttrs(ctx, slog.LevelError, "gorm.query", attrs...)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		attrs = append(attrs, slog.Duration("threshold", l.SlowThreshold))
		l.Logger.LogAttrs(ctx, slog.LevelWarn, "gorm.slow_query", attrs...)
	case l.LogLevel >= logger.Info:
		l.Logger.LogAttrs(ctx, slog.LevelDebug, "gorm.query", attrs...)
	}
}
