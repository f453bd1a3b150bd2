// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Core session record shared by every protocol session kind.

package session

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-nat/api"
)

// Base holds the identity and liveness state common to all sessions.
// Protocol sessions embed *Base and add their own resources and Close.
type Base struct {
	sourcePort uint16
	remoteAddr netip.Addr
	remotePort uint16
	created    time.Time

	lastActive atomic.Int64 // unix nanoseconds
	finished   atomic.Bool
	done       chan struct{}
	once       sync.Once
}

var _ api.Session = (*Base)(nil)

// NewBase creates a live session record stamped with the current time.
func NewBase(sourcePort uint16, remoteAddr netip.Addr, remotePort uint16) *Base {
	return NewBaseAt(sourcePort, remoteAddr, remotePort, time.Now())
}

// NewBaseAt creates a live session record stamped with now.
func NewBaseAt(sourcePort uint16, remoteAddr netip.Addr, remotePort uint16, now time.Time) *Base {
	b := &Base{
		sourcePort: sourcePort,
		remoteAddr: remoteAddr.Unmap(),
		remotePort: remotePort,
		created:    now,
		done:       make(chan struct{}),
	}
	b.lastActive.Store(now.UnixNano())
	return b
}

// SourcePort returns the local NAT port identifying the flow.
func (b *Base) SourcePort() uint16 { return b.sourcePort }

// RemoteAddr returns the far end address.
func (b *Base) RemoteAddr() netip.Addr { return b.remoteAddr }

// RemotePort returns the far end port.
func (b *Base) RemotePort() uint16 { return b.remotePort }

// Remote returns the far end as an AddrPort.
func (b *Base) Remote() netip.AddrPort {
	return netip.AddrPortFrom(b.remoteAddr, b.remotePort)
}

// CreatedAt returns the construction time.
func (b *Base) CreatedAt() time.Time { return b.created }

// LastActive returns the last observed activity time.
func (b *Base) LastActive() time.Time {
	return time.Unix(0, b.lastActive.Load())
}

// Active marks the session as live now.
func (b *Base) Active() { b.ActiveAt(time.Now()) }

// ActiveAt records activity at t. Older timestamps never overwrite newer ones.
func (b *Base) ActiveAt(t time.Time) {
	ns := t.UnixNano()
	for {
		cur := b.lastActive.Load()
		if ns <= cur {
			return
		}
		if b.lastActive.CompareAndSwap(cur, ns) {
			return
		}
	}
}

// IdleFor reports how long the session has been idle as of now.
func (b *Base) IdleFor(now time.Time) time.Duration {
	return now.Sub(b.LastActive())
}

// Finished reports whether the session has been finished or terminated.
func (b *Base) Finished() bool { return b.finished.Load() }

// Finish marks the session finished; only the first call returns true.
func (b *Base) Finish() bool {
	if !b.finished.CompareAndSwap(false, true) {
		return false
	}
	b.once.Do(func() { close(b.done) })
	return true
}

// Done returns a channel closed once the session is finished.
func (b *Base) Done() <-chan struct{} { return b.done }

// Close is a no-op; protocol sessions override it to release resources.
func (b *Base) Close() error { return nil }

func (b *Base) String() string {
	return fmt.Sprintf("%d->%s", b.sourcePort, b.Remote())
}
