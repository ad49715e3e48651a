package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("  select * from students"))
	assert.Equal(t, "UPDATE", operationFromSQL("WITH x AS (SELECT 1) UPDATE students SET status = 'inactive'"))
	assert.Equal(t, "DELETE", operationFromSQL("WITH stale AS (SELECT id FROM student_tokens WHERE used = false) DELETE FROM student_tokens WHERE id IN (SELECT id FROM stale)"))
	assert.Equal(t, "UPDATE", operationFromSQL("UPDATE students SET deleted_at = NULL"))
	assert.Equal(t, "SELECT", operationFromSQL("(SELECT 1) UNION (SELECT 2)"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestTraceLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	expected := errors.New("UNIQUE constraint failed")
	l := NewGormLogger(GormLoggerConfig{
		Level:                gormlogger.Warn,
		IgnoreRecordNotFound: true,
		ExpectedError:        func(err error) bool { return errors.Is(err, expected) },
	})
	fc := func() (string, int64) { return "INSERT INTO attendance_records", 0 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), fc, gormlogger.ErrRecordNotFound)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), fc, expected)
	l.Trace(ctx, time.Now(), fc, errors.New("connection refused"))

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	}
}
