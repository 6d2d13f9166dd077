package dom

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned by Poll when the condition never held.
var ErrPollTimeout = errors.New("condition not met before timeout")

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poll calls cond every interval until it reports done, returns an error,
// the timeout elapses or ctx is cancelled. cond runs at least once.
func Poll(ctx context.Context, interval, timeout time.Duration, cond func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !time.Now().Add(interval).Before(deadline) {
			return ErrPollTimeout
		}
		if err := Sleep(ctx, interval); err != nil {
			return err
		}
	}
}
