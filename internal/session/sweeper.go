// File: internal/session/sweeper.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Idle-timeout reclamation running independently of the reactor loop.

package session

import (
	"sync"
	"time"

	"github.com/momentics/hioload-nat/internal/concurrency"
)

// SweeperOption customizes a Sweeper.
type SweeperOption func(*sweeperOptions)

type sweeperOptions struct {
	interval time.Duration
	now      func() time.Time
	onSweep  func(removed int)
}

// WithInterval overrides the firing interval (defaults to the timeout).
func WithInterval(d time.Duration) SweeperOption {
	return func(o *sweeperOptions) { o.interval = d }
}

// WithClock overrides the time source used to measure idleness.
func WithClock(now func() time.Time) SweeperOption {
	return func(o *sweeperOptions) { o.now = now }
}

// WithSweepObserver is called after every periodic sweep with the number
// of sessions removed.
func WithSweepObserver(fn func(removed int)) SweeperOption {
	return func(o *sweeperOptions) { o.onSweep = fn }
}

// Sweeper periodically removes sessions idle for at least timeout.
type Sweeper[S Entry] struct {
	store   *Store[S]
	timeout time.Duration
	opts    sweeperOptions

	mu      sync.Mutex
	task    *concurrency.Task
	stopped bool
}

// NewSweeper creates a stopped sweeper for store.
func NewSweeper[S Entry](store *Store[S], timeout time.Duration, opts ...SweeperOption) *Sweeper[S] {
	o := sweeperOptions{interval: timeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.interval <= 0 {
		o.interval = timeout
	}
	return &Sweeper[S]{store: store, timeout: timeout, opts: o}
}

// Timeout returns the idle timeout.
func (sw *Sweeper[S]) Timeout() time.Duration { return sw.timeout }

// Start begins periodic sweeping. It is a no-op when running or stopped.
func (sw *Sweeper[S]) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.task != nil || sw.stopped {
		return
	}
	sw.task = concurrency.Every(sw.opts.interval, func() {
		n := sw.Sweep()
		if sw.opts.onSweep != nil {
			sw.opts.onSweep(n)
		}
	})
}

// Stop cancels periodic sweeping. Once Stop returns no sweep is in progress
// and none will start.
func (sw *Sweeper[S]) Stop() {
	sw.mu.Lock()
	sw.stopped = true
	task := sw.task
	sw.task = nil
	sw.mu.Unlock()

	if task != nil {
		task.Stop()
	}
}

// Sweep removes idle sessions as of the sweeper's clock.
func (sw *Sweeper[S]) Sweep() int {
	return sw.SweepAt(sw.opts.now())
}

// SweepAt removes sessions whose idle time at now is at least the timeout.
func (sw *Sweeper[S]) SweepAt(now time.Time) int {
	return sw.store.RemoveWhere(RemovalIdle, func(s S) bool {
		return now.Sub(s.LastActive()) >= sw.timeout
	})
}
