package clock

import (
	"context"
	"sync"
)

// Fake is a manually driven Clock for deterministic tests.
//
// Goroutines blocked in [Fake.SleepMS] or [Fake.SleepUntil] are parked on a
// sleeper list and woken only when [Fake.Advance] moves time past their
// deadline. Tests that race a sleeper against an action must first park the
// sleeper with [Fake.BlockUntilSleepers], then advance; otherwise the wake
// can be lost to scheduling.
type Fake struct {
	mu       sync.Mutex
	now      int64
	sleepers []*sleeper
	changed  chan struct{}
}

type sleeper struct {
	wakeAt int64
	ch     chan struct{}
}

var _ Clock = (*Fake)(nil)

// NewFake returns a Fake clock starting at startMS.
func NewFake(startMS int64) *Fake {
	return &Fake{now: startMS, changed: make(chan struct{})}
}

// NowMS implements [Clock.NowMS].
func (f *Fake) NowMS() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// SleepMS implements [Clock.SleepMS].
func (f *Fake) SleepMS(ctx context.Context, ms int64) error {
	f.mu.Lock()
	deadline := f.now + ms
	f.mu.Unlock()
	if ms <= 0 {
		return ctx.Err()
	}
	return f.sleepUntilLocked(ctx, deadline)
}

// SleepUntil implements [Clock.SleepUntil].
func (f *Fake) SleepUntil(ctx context.Context, deadlineMS int64) error {
	return f.sleepUntilLocked(ctx, deadlineMS)
}

func (f *Fake) sleepUntilLocked(ctx context.Context, deadline int64) error {
	f.mu.Lock()
	if deadline <= f.now {
		f.mu.Unlock()
		return ctx.Err()
	}
	s := &sleeper{wakeAt: deadline, ch: make(chan struct{})}
	f.sleepers = append(f.sleepers, s)
	f.pulseLocked()
	f.mu.Unlock()

	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		f.remove(s)
		return ctx.Err()
	}
}

// Advance moves time forward by ms and wakes every sleeper whose deadline
// has passed.
func (f *Fake) Advance(ms int64) {
	f.mu.Lock()
	f.now += ms
	var wake []*sleeper
	rest := f.sleepers[:0]
	for _, s := range f.sleepers {
		if s.wakeAt <= f.now {
			wake = append(wake, s)
		} else {
			rest = append(rest, s)
		}
	}
	f.sleepers = rest
	if len(wake) > 0 {
		f.pulseLocked()
	}
	f.mu.Unlock()
	for _, s := range wake {
		close(s.ch)
	}
}

// Sleepers reports how many goroutines are parked on the clock.
func (f *Fake) Sleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sleepers)
}

// BlockUntilSleepers waits until at least n goroutines are parked.
func (f *Fake) BlockUntilSleepers(ctx context.Context, n int) error {
	for {
		f.mu.Lock()
		if len(f.sleepers) >= n {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Fake) remove(target *sleeper) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.sleepers {
		if s == target {
			f.sleepers = append(f.sleepers[:i], f.sleepers[i+1:]...)
			f.pulseLocked()
			return
		}
	}
}

// pulseLocked signals sleeper-list changes to BlockUntilSleepers waiters.
// Callers hold f.mu.
func (f *Fake) pulseLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}
