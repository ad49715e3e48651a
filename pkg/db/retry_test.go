package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestRetryOnConflict(t *testing.T) {
	conflict := &pgconn.PgError{Code: "40001"}

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls, retries := 0, 0
		err := RetryOnConflict(context.Background(), RetryPolicy{
			MaxRetries: 3,
			OnRetry:    func(int, error) { retries++ },
		}, func() error {
			calls++
			if calls < 3 {
				return conflict
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, retries)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), RetryPolicy{MaxRetries: 2}, func() error {
			calls++
			return conflict
		})
		assert.ErrorIs(t, err, conflict)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := RetryOnConflict(context.Background(), RetryPolicy{MaxRetries: 5}, func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})
}
