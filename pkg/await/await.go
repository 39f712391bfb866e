// Package await provides a bounded, cancellable wait on a polled condition.
//
// It replaces ad-hoc timer loops ("check every second whether the tab has
// loaded") with one primitive:
//
//	err := await.Until(ctx, time.Second, 30*time.Second, func(ctx context.Context) (bool, error) {
//	    return host.IsLoaded(ctx, handle)
//	})
//
// Until returns nil once the condition holds, ErrTimeout when the timeout
// elapses first, the condition's error if it fails, or the context error
// when ctx is cancelled.
package await

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the condition does not hold before the timeout
var ErrTimeout = errors.New("await: condition not met before timeout")

// Condition is evaluated on every tick
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond immediately and then every interval until it reports
// true. A non-positive timeout waits until ctx is done.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(waitCtx)
		if err != nil {
			// A condition cut short by our own deadline is a timeout.
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return ErrTimeout
			}
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrTimeout
		case <-ticker.C:
		}
	}
}
