package infrastructure

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"licensed/internal/config"
	"licensed/internal/shared/testutil"
)

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "sqlite"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, DSN: "x"})
		require.NoError(t, err)
		assert.Equal(t, driver, d.Name())
	}

	_, err := Dialector(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestOpenDatabase(t *testing.T) {
	log, capture := testutil.NewLogger()
	cfg := config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + filepath.Join(t.TempDir(), "licensed.db"),
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	}

	db, err := OpenDatabase(context.Background(), cfg, log)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
	assert.Equal(t, 2, sqlDB.Stats().MaxOpenConnections)
	assert.NotEmpty(t, capture.Find("Database connection configured"))

	require.NoError(t, CloseDatabase(db))
	assert.Error(t, sqlDB.Ping())
}

func TestSlogGormLogger(t *testing.T) {
	ctx := context.Background()
	begin := time.Now().Add(-time.Second)
	query := func() (string, int64) { return "SELECT 1", 1 }

	t.Run("errors", func(t *testing.T) {
		log, capture := testutil.NewLogger()
		l := NewSlogGormLogger(log, logger.Warn)

		l.Trace(ctx, time.Now(), query, errors.New("database is locked"))
		records := capture.Find("gorm.query")
		require.Len(t, records, 1)
		assert.Equal(t, "ERROR", records[0].Level.String())
		assert.Equal(t, "database is locked", records[0].Attrs["error"])
	})

	t.Run("record not found is not an error", func(t *testing.T) {
		log, capture := testutil.NewLogger()
		NewSlogGormLogger(log, logger.Warn).Trace(ctx, time.Now(), query, logger.ErrRecordNotFound)
		assert.Empty(t, capture.Records())
	})

	t.Run("slow queries", func(t *testing.T) {
		log, capture := testutil.NewLogger()
		NewSlogGormLogger(log, logger.Warn).Trace(ctx, begin, query, nil)
		records := capture.Find("gorm.slow_query")
		require.Len(t, records, 1)
		assert.Equal(t, "SELECT 1", records[0].Attrs["sql"])
	})

	t.Run("silent", func(t *testing.T) {
		log, capture := testutil.NewLogger()
		l := NewSlogGormLogger(log, logger.Warn).LogMode(logger.Silent)
		l.Trace(ctx, begin, query, errors.New("boom"))
		l.Error(ctx, "failed %s", "x")
		assert.Empty(t, capture.Records())
	})

	t.Run("info level logs every query", func(t *testing.T) {
		log, capture := testutil.NewLogger()
		l := NewSlogGormLogger(log, logger.Info)
		l.Trace(ctx, time.Now(), query, nil)
		l.Info(ctx, "migrated %d tables", 1)
		assert.Len(t, capture.Find("gorm.query"), 1)
		assert.Len(t, capture.Find("migrated 1 tables"), 1)
	})
}
