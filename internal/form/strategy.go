package form

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted is returned by FirstSuccess when no strategy produced a value.
var ErrExhausted = errors.New("all strategies exhausted")

// Strategy is one way of obtaining a T. Run reports ok=false when the
// strategy does not apply; an error also moves on to the next strategy.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, bool, error)
}

// FirstSuccess runs strategies in order and returns the first value that
// succeeds together with the winning strategy's name. Context cancellation
// aborts immediately.
func FirstSuccess[T any](ctx context.Context, strategies ...Strategy[T]) (T, string, error) {
	var (
		zero T
		errs []error
	)
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		v, ok, err := s.Run(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, "", ctxErr
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		if ok {
			return v, s.Name, nil
		}
	}
	if len(errs) > 0 {
		return zero, "", fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
	}
	return zero, "", ErrExhausted
}
