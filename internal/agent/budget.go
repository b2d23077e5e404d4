package agent

import (
	"context"
	"errors"
	"time"
)

// errBudgetExceeded is returned by runWithBudget when the budget elapses
// before fn answers. Callers translate it into their own timeout error.
var errBudgetExceeded = errors.New("budget exceeded")

// runWithBudget races fn against budget. fn runs on its own goroutine with a
// context that is cancelled when the budget elapses; an abandoned fn may keep
// running, and its late result lands in the buffered channel and is dropped.
func runWithBudget[T any](ctx context.Context, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if budget <= 0 {
		return zero, errBudgetExceeded
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(budgetCtx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(budgetCtx.Err(), context.DeadlineExceeded) {
			return zero, errBudgetExceeded
		}
		return r.val, r.err
	case <-budgetCtx.Done():
		if parentErr := ctx.Err(); parentErr != nil && !errors.Is(parentErr, context.DeadlineExceeded) {
			return zero, parentErr
		}
		return zero, errBudgetExceeded
	}
}
