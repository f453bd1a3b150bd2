// File: nat/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package nat

import "time"

const (
	// DefaultCapacity is the entry count above which creation sweeps expired entries.
	DefaultCapacity = 60
	// DefaultTTL is the age after which an entry may be swept.
	DefaultTTL = 60 * time.Second
)

// ReleaseFunc observes entries leaving the table. It runs without the
// table lock held.
type ReleaseFunc func(port uint16, e *Entry, reason Reason)

// Observer receives the table size after every change.
type Observer interface {
	SetNatEntries(n int)
}

// Option customizes a Table.
type Option func(*Table)

// WithCapacity sets the soft capacity.
func WithCapacity(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithTTL sets the expiry age used by sweeps.
func WithTTL(d time.Duration) Option {
	return func(t *Table) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		if now != nil {
			t.now = now
		}
	}
}

// WithRelease installs the release hook.
func WithRelease(fn ReleaseFunc) Option {
	return func(t *Table) {
		t.release = fn
	}
}

// WithObserver reports the table size to o.
func WithObserver(o Observer) Option {
	return func(t *Table) {
		t.observer = o
	}
}
