// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Bounded, thread-safe session store with least-recently-used eviction.

package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-nat/api"
	"github.com/momentics/hioload-nat/internal/logger"
)

// Removal describes why a session left the store.
type Removal int

const (
	// RemovalExplicit is a caller-requested removal (finishSession).
	RemovalExplicit Removal = iota
	// RemovalSuperseded is a put that replaced an existing key.
	RemovalSuperseded
	// RemovalIdle is an idle-timeout sweep.
	RemovalIdle
	// RemovalEvicted is capacity pressure pushing out the LRU entry.
	RemovalEvicted
	// RemovalShutdown is the store being drained on close.
	RemovalShutdown
)

func (r Removal) String() string {
	switch r {
	case RemovalExplicit:
		return "finished"
	case RemovalSuperseded:
		return "superseded"
	case RemovalIdle:
		return "idle"
	case RemovalEvicted:
		return "evicted"
	case RemovalShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Evicted reports whether the store pushed the entry out on its own
// (capacity pressure or shutdown) rather than on request.
func (r Removal) Evicted() bool {
	return r == RemovalEvicted || r == RemovalShutdown
}

// Entry is the constraint for stored sessions.
type Entry interface {
	api.Session
	comparable
}

// ReleaseFunc is invoked exactly once for every session leaving the store,
// after it has been unlinked and marked finished.
type ReleaseFunc[S Entry] func(s S, reason Removal)

const nilIndex int32 = -1

type node[S Entry] struct {
	key        uint16
	val        S
	prev, next int32
}

type released[S Entry] struct {
	s      S
	reason Removal
}

// Store maps source ports to sessions, bounded by capacity.
//
// Recency is an explicit doubly linked list threaded through an arena of
// nodes; index maps keys to arena slots. Every mutation happens under mu.
// Release hooks run after mu is dropped, so a hook may call back into the store.
type Store[S Entry] struct {
	mu       sync.Mutex
	capacity int
	nodes    []node[S]
	free     []int32
	index    map[uint16]int32
	head     int32 // most recently used
	tail     int32 // least recently used
	closed   bool
	release  ReleaseFunc[S]
}

// NewStore creates a store holding at most capacity sessions. A nil release
// closes removed sessions quietly.
func NewStore[S Entry](capacity int, release ReleaseFunc[S]) *Store[S] {
	if capacity < 1 {
		capacity = 1
	}
	if release == nil {
		release = CloseQuietly[S]
	}
	return &Store[S]{
		capacity: capacity,
		nodes:    make([]node[S], 0, capacity+1),
		index:    make(map[uint16]int32, capacity+1),
		head:     nilIndex,
		tail:     nilIndex,
		release:  release,
	}
}

// Capacity returns the maximum number of live entries.
func (st *Store[S]) Capacity() int { return st.capacity }

// Len returns the number of live entries.
func (st *Store[S]) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.index)
}

// Put stores s under key, replacing any previous entry for the key and
// evicting least recently used entries beyond capacity.
func (st *Store[S]) Put(key uint16, s S) error {
	if s.Finished() {
		return api.ErrSessionFinished
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return api.ErrStoreClosed
	}

	var out []released[S]
	if idx, ok := st.index[key]; ok {
		if st.nodes[idx].val == s {
			st.moveToFront(idx)
			st.mu.Unlock()
			return nil
		}
		out = append(out, st.detach(idx, RemovalSuperseded))
	}

	idx := st.alloc()
	st.nodes[idx] = node[S]{key: key, val: s, prev: nilIndex, next: nilIndex}
	st.pushFront(idx)
	st.index[key] = idx

	for len(st.index) > st.capacity {
		out = append(out, st.detach(st.tail, RemovalEvicted))
	}
	st.mu.Unlock()

	st.dispatch(out)
	return nil
}

// Get returns the session for key and marks it most recently used.
// It does not touch the session's activity timestamp.
func (st *Store[S]) Get(key uint16) (S, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	idx, ok := st.index[key]
	if !ok {
		var zero S
		return zero, false
	}
	st.moveToFront(idx)
	return st.nodes[idx].val, true
}

// Peek returns the session for key without affecting recency.
func (st *Store[S]) Peek(key uint16) (S, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	idx, ok := st.index[key]
	if !ok {
		var zero S
		return zero, false
	}
	return st.nodes[idx].val, true
}

// Remove deletes key and releases its session.
func (st *Store[S]) Remove(key uint16) (S, bool) {
	st.mu.Lock()
	idx, ok := st.index[key]
	if !ok {
		st.mu.Unlock()
		var zero S
		return zero, false
	}
	r := st.detach(idx, RemovalExplicit)
	st.mu.Unlock()

	st.dispatch([]released[S]{r})
	return r.s, true
}

// RemoveIf deletes key only while it still maps to s, and releases s.
// It reports whether s was removed.
func (st *Store[S]) RemoveIf(key uint16, s S) bool {
	st.mu.Lock()
	idx, ok := st.index[key]
	if !ok || st.nodes[idx].val != s {
		st.mu.Unlock()
		return false
	}
	r := st.detach(idx, RemovalExplicit)
	st.mu.Unlock()

	st.dispatch([]released[S]{r})
	return true
}

// RemoveWhere removes every session matching pred, least recently used
// first, and returns how many were removed. pred runs under the store lock.
func (st *Store[S]) RemoveWhere(reason Removal, pred func(S) bool) int {
	st.mu.Lock()
	var out []released[S]
	for idx := st.tail; idx != nilIndex; {
		prev := st.nodes[idx].prev
		if pred(st.nodes[idx].val) {
			out = append(out, st.detach(idx, reason))
		}
		idx = prev
	}
	st.mu.Unlock()

	st.dispatch(out)
	return len(out)
}

// EvictAll removes every session, least recently used first.
func (st *Store[S]) EvictAll(reason Removal) int {
	st.mu.Lock()
	out := st.drainLocked(reason)
	st.mu.Unlock()

	st.dispatch(out)
	return len(out)
}

// Close evicts every session and rejects further puts. Safe to call twice.
func (st *Store[S]) Close() int {
	st.mu.Lock()
	st.closed = true
	out := st.drainLocked(RemovalShutdown)
	st.mu.Unlock()

	st.dispatch(out)
	return len(out)
}

// Keys returns live keys from most to least recently used.
func (st *Store[S]) Keys() []uint16 {
	st.mu.Lock()
	defer st.mu.Unlock()
	keys := make([]uint16, 0, len(st.index))
	for idx := st.head; idx != nilIndex; idx = st.nodes[idx].next {
		keys = append(keys, st.nodes[idx].key)
	}
	return keys
}

// Snapshot returns live sessions from most to least recently used.
func (st *Store[S]) Snapshot() []S {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]S, 0, len(st.index))
	for idx := st.head; idx != nilIndex; idx = st.nodes[idx].next {
		out = append(out, st.nodes[idx].val)
	}
	return out
}

func (st *Store[S]) drainLocked(reason Removal) []released[S] {
	out := make([]released[S], 0, len(st.index))
	for st.tail != nilIndex {
		out = append(out, st.detach(st.tail, reason))
	}
	return out
}

// detach unlinks idx, frees its slot and finishes the session. mu held.
func (st *Store[S]) detach(idx int32, reason Removal) released[S] {
	n := st.nodes[idx]
	st.unlink(idx)
	delete(st.index, n.key)
	var zero S
	st.nodes[idx] = node[S]{val: zero, prev: nilIndex, next: nilIndex}
	st.free = append(st.free, idx)
	n.val.Finish()
	return released[S]{s: n.val, reason: reason}
}

func (st *Store[S]) alloc() int32 {
	if n := len(st.free); n > 0 {
		idx := st.free[n-1]
		st.free = st.free[:n-1]
		return idx
	}
	st.nodes = append(st.nodes, node[S]{})
	return int32(len(st.nodes) - 1)
}

func (st *Store[S]) pushFront(idx int32) {
	st.nodes[idx].prev = nilIndex
	st.nodes[idx].next = st.head
	if st.head != nilIndex {
		st.nodes[st.head].prev = idx
	}
	st.head = idx
	if st.tail == nilIndex {
		st.tail = idx
	}
}

func (st *Store[S]) unlink(idx int32) {
	n := &st.nodes[idx]
	if n.prev != nilIndex {
		st.nodes[n.prev].next = n.next
	} else {
		st.head = n.next
	}
	if n.next != nilIndex {
		st.nodes[n.next].prev = n.prev
	} else {
		st.tail = n.prev
	}
	n.prev, n.next = nilIndex, nilIndex
}

func (st *Store[S]) moveToFront(idx int32) {
	if st.head == idx {
		return
	}
	st.unlink(idx)
	st.pushFront(idx)
}

func (st *Store[S]) dispatch(out []released[S]) {
	for _, r := range out {
		st.safeRelease(r)
	}
}

// safeRelease isolates the store from a failing hook.
func (st *Store[S]) safeRelease(r released[S]) {
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("session release hook panicked",
				logger.KeySourcePort, r.s.SourcePort(),
				logger.KeyReason, r.reason.String(),
				logger.KeyError, fmt.Sprint(p))
		}
	}()
	st.release(r.s, r.reason)
}

// CloseQuietly closes s and logs, rather than returns, any failure.
func CloseQuietly[S Entry](s S, reason Removal) {
	if err := s.Close(); err != nil && !errors.Is(err, api.ErrSessionFinished) {
		logger.Warn("closing session failed",
			logger.KeySourcePort, s.SourcePort(),
			logger.KeyReason, reason.String(),
			logger.KeyError, err)
	}
}
