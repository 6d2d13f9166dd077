package session

import (
	"context"
)

// CombineContext returns a context that carries the values of primary (the
// chromedp tab context) and is cancelled when either primary or op is done.
// An earlier deadline on op is applied as well, so chromedp sees it.
func CombineContext(primary, op context.Context) (context.Context, context.CancelFunc) {
	var (
		combined context.Context
		cancel   context.CancelFunc
	)
	if d, ok := op.Deadline(); ok {
		combined, cancel = context.WithDeadline(primary, d)
	} else {
		combined, cancel = context.WithCancel(primary)
	}
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// Detach returns a context with the values of ctx that is never cancelled.
// Teardown actions use it after the session context has ended.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
