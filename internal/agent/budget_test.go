package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRunWithBudget(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	t.Run("returns the value in time", func(t *testing.T) {
		v, err := runWithBudget(ctx, time.Second, func(context.Context) (int, error) {
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("passes errors through", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := runWithBudget(ctx, time.Second, func(context.Context) (int, error) {
			return 0, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("abandons a slow call", func(t *testing.T) {
		start := time.Now()
		_, err := runWithBudget(ctx, 20*time.Millisecond, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return 1, nil
		})
		assert.ErrorIs(t, err, errBudgetExceeded)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("ignores a call that never honours its context", func(t *testing.T) {
		release := make(chan struct{})
		_, err := runWithBudget(ctx, 10*time.Millisecond, func(context.Context) (int, error) {
			<-release
			return 1, nil
		})
		assert.ErrorIs(t, err, errBudgetExceeded)
		// the late result lands in the buffered channel and the goroutine exits
		close(release)
	})

	t.Run("deadline errors from fn count as overrun", func(t *testing.T) {
		_, err := runWithBudget(ctx, 10*time.Millisecond, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		assert.ErrorIs(t, err, errBudgetExceeded)
	})

	t.Run("zero budget", func(t *testing.T) {
		called := false
		_, err := runWithBudget(ctx, 0, func(context.Context) (int, error) {
			called = true
			return 0, nil
		})
		assert.ErrorIs(t, err, errBudgetExceeded)
		assert.False(t, called)
	})

	t.Run("cancelled parent", func(t *testing.T) {
		parent, cancel := context.WithCancel(ctx)
		cancel()
		_, err := runWithBudget(parent, time.Second, func(context.Context) (int, error) {
			return 0, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("parent cancelled mid-call", func(t *testing.T) {
		parent, cancel := context.WithCancel(ctx)
		time.AfterFunc(10*time.Millisecond, cancel)
		_, err := runWithBudget(parent, time.Second, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
