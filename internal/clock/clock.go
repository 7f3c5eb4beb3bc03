// Package clock is the time source shared by every session component.
//
// All waits in the runtime are expressed against a [Clock] rather than the
// time package directly, so that tests can swap in a [Fake] and drive time
// by hand. Production sessions use [Real], which is anchored to the process
// monotonic clock. Deadlines are absolute milliseconds; components compute
// them once and sleep toward them, so a late wakeup never stretches a wait.
package clock

import (
	"context"
	"time"
)

// Clock hands out the current session time and blocks until deadlines.
type Clock interface {
	// NowMS returns milliseconds since an arbitrary fixed origin.
	NowMS() int64

	// SleepMS blocks for ms milliseconds or until ctx is done.
	// Non-positive durations return immediately.
	SleepMS(ctx context.Context, ms int64) error

	// SleepUntil blocks until NowMS reaches deadlineMS or ctx is done.
	// Deadlines at or before the current time return immediately.
	SleepUntil(ctx context.Context, deadlineMS int64) error
}

// Real is a Clock backed by the monotonic wall clock.
type Real struct {
	origin time.Time
}

var _ Clock = (*Real)(nil)

// NewReal returns a Real clock whose origin is the moment of the call.
func NewReal() *Real {
	return &Real{origin: time.Now()}
}

// NowMS implements [Clock.NowMS].
func (r *Real) NowMS() int64 {
	return time.Since(r.origin).Milliseconds()
}

// SleepMS implements [Clock.SleepMS].
func (r *Real) SleepMS(ctx context.Context, ms int64) error {
	if ms <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SleepUntil implements [Clock.SleepUntil].
func (r *Real) SleepUntil(ctx context.Context, deadlineMS int64) error {
	return r.SleepMS(ctx, deadlineMS-r.NowMS())
}
