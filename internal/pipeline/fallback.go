package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoAttempts is returned by First when called without attempts.
var ErrNoAttempts = errors.New("no attempts configured")

// Attempt is one strategy of an ordered fallback chain.
type Attempt[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// First runs attempts in order and returns the result of the first one that
// does not fail, together with its name. There is no retry and no backoff:
// each attempt runs at most once. When every attempt fails the errors are
// joined.
func First[T any](ctx context.Context, attempts ...Attempt[T]) (T, string, error) {
	var zero T
	if len(attempts) == 0 {
		return zero, "", ErrNoAttempts
	}

	errs := make([]error, 0, len(attempts))
	for i, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return zero, "", errors.Join(errs...)
		}

		v, err := attempt.Run(ctx)
		if err == nil {
			if i > 0 {
				slog.Info("Fallback attempt succeeded", "attempt", attempt.Name, "position", i+1)
			}
			return v, attempt.Name, nil
		}

		slog.Warn("Attempt failed", "attempt", attempt.Name, "position", i+1, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", attempt.Name, err))
	}

	return zero, "", errors.Join(errs...)
}
