// File: nat/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Port-keyed table of original destinations with pick-or-create semantics.

package nat

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/momentics/hioload-nat/internal/logger"
)

// Table maps a local source port to the flow's original destination.
//
// Capacity is soft: creation sweeps expired entries once the table holds
// more than capacity entries and then inserts regardless, so the table can
// transiently exceed capacity.
type Table struct {
	mu       sync.Mutex
	entries  map[uint16]*Entry
	lastNano int64

	capacity int
	ttl      time.Duration
	now      func() time.Time
	release  ReleaseFunc
	observer Observer
}

type releasedEntry struct {
	port   uint16
	entry  *Entry
	reason Reason
}

// Mapping is a snapshot row.
type Mapping struct {
	Port     uint16    `json:"port"`
	Remote   string    `json:"remote"`
	LastTime time.Time `json:"last_time"`
}

// New creates an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		entries:  make(map[uint16]*Entry),
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Capacity returns the soft capacity.
func (t *Table) Capacity() int { return t.capacity }

// TTL returns the expiry age.
func (t *Table) TTL() time.Duration { return t.ttl }

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// GetSession returns the entry for port.
func (t *Table) GetSession(port uint16) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[port]
	return e, ok
}

// Lookup returns the original destination recorded for port.
func (t *Table) Lookup(port uint16) (netip.AddrPort, bool) {
	e, ok := t.GetSession(port)
	if !ok {
		return netip.AddrPort{}, false
	}
	return e.Remote(), true
}

// CreateSession inserts a fresh entry for port, replacing any existing one.
func (t *Table) CreateSession(port uint16, ip netip.Addr, remotePort uint16) *Entry {
	t.mu.Lock()
	e, out := t.createLocked(port, ip, remotePort)
	n := len(t.entries)
	t.mu.Unlock()

	t.dispatch(out, n)
	return e
}

// PickSession returns the entry for port when it already targets
// ip:remotePort, otherwise replaces it. Either way the entry's timestamp is
// refreshed and strictly greater than any timestamp issued before.
func (t *Table) PickSession(port uint16, ip netip.Addr, remotePort uint16) *Entry {
	t.mu.Lock()
	if e, ok := t.entries[port]; ok && e.matches(ip, remotePort) {
		e.lastTime.Store(t.stampLocked())
		t.mu.Unlock()
		return e
	}
	e, out := t.createLocked(port, ip, remotePort)
	n := len(t.entries)
	t.mu.Unlock()

	t.dispatch(out, n)
	return e
}

// Remove deletes the entry for port.
func (t *Table) Remove(port uint16) bool {
	t.mu.Lock()
	e, ok := t.entries[port]
	if ok {
		delete(t.entries, port)
	}
	n := len(t.entries)
	t.mu.Unlock()

	if ok {
		t.dispatch([]releasedEntry{{port, e, ReasonRemoved}}, n)
	}
	return ok
}

// Sweep removes entries last picked more than TTL ago.
func (t *Table) Sweep() int {
	t.mu.Lock()
	out := t.sweepLocked(t.now())
	n := len(t.entries)
	t.mu.Unlock()

	t.dispatch(out, n)
	return len(out)
}

// Snapshot returns all entries ordered by port.
func (t *Table) Snapshot() []Mapping {
	t.mu.Lock()
	out := make([]Mapping, 0, len(t.entries))
	for port, e := range t.entries {
		out = append(out, Mapping{Port: port, Remote: e.Remote().String(), LastTime: e.LastTime()})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

func (t *Table) createLocked(port uint16, ip netip.Addr, remotePort uint16) (*Entry, []releasedEntry) {
	var out []releasedEntry
	if len(t.entries) > t.capacity {
		out = t.sweepLocked(t.now())
	}
	if old, ok := t.entries[port]; ok {
		out = append(out, releasedEntry{port, old, ReasonReplaced})
	}
	e := newEntry(ip, remotePort, t.stampLocked())
	t.entries[port] = e
	return e, out
}

func (t *Table) sweepLocked(now time.Time) []releasedEntry {
	var out []releasedEntry
	for port, e := range t.entries {
		if now.Sub(e.LastTime()) > t.ttl {
			delete(t.entries, port)
			out = append(out, releasedEntry{port, e, ReasonExpired})
		}
	}
	return out
}

// stampLocked issues a strictly increasing timestamp.
func (t *Table) stampLocked() int64 {
	ns := t.now().UnixNano()
	if ns <= t.lastNano {
		ns = t.lastNano + 1
	}
	t.lastNano = ns
	return ns
}

func (t *Table) dispatch(out []releasedEntry, n int) {
	if t.observer != nil {
		t.observer.SetNatEntries(n)
	}
	if t.release == nil {
		return
	}
	for _, r := range out {
		t.safeRelease(r)
	}
}

func (t *Table) safeRelease(r releasedEntry) {
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("nat release hook panicked",
				logger.KeySourcePort, r.port,
				logger.KeyReason, r.reason.String(),
				logger.KeyError, fmt.Sprint(p))
		}
	}()
	t.release(r.port, r.entry, r.reason)
}
