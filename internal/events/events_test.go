package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInMemoryPublishAndDrain(t *testing.T) {
	q := NewInMemory(2)
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, q.Publish(ctx, New(TypePaymentRecorded, at, map[string]any{"student_id": "1"})))
	require.NoError(t, q.Publish(ctx, New(TypeAttendanceRecorded, at, nil)))
	assert.ErrorIs(t, q.Publish(ctx, New(TypeAttendanceRecorded, at, nil)), ErrQueueFull)

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, TypePaymentRecorded, drained[0].Type)
	assert.NotEmpty(t, drained[0].ID)
	assert.Empty(t, q.Drain())

	q.Close()
	assert.Error(t, q.Publish(ctx, New(TypeAttendanceRecorded, at, nil)))
}

func TestRedisPublisherRequiresClient(t *testing.T) {
	var p *RedisPublisher
	assert.Error(t, p.Publish(context.Background(), Event{}))
	assert.Equal(t, DefaultRedisKey, NewRedisPublisher(nil, "").key)
}

func TestNewPublisherWithoutRedisNeverFills(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	pub := NewPublisher(nil, zap.New(core))
	require.IsType(t, &LogPublisher{}, pub)

	ctx := context.Background()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 300; i++ {
		require.NoError(t, pub.Publish(ctx, New(TypeAttendanceRecorded, at, map[string]any{"n": i})))
	}
	assert.Equal(t, 300, logs.FilterMessage("event").Len())
}
