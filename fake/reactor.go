// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the reactor, channel,
// session and protocol contracts.

package fake

import (
	"sync"

	"github.com/momentics/hioload-nat/reactor"
)

// Reactor is an in-memory reactor.EventReactor. Tests inject readiness with
// Fire and selector failures with FailWait.
type Reactor struct {
	mu       sync.Mutex
	regs     map[uintptr]uintptr
	ready    []reactor.Event
	waitErr  error
	woken    bool
	closed   bool
	closes   int
	wakeups  int
	signal   chan struct{}
	closeErr error
}

// NewReactor creates an empty fake reactor.
func NewReactor() *Reactor {
	return &Reactor{
		regs:   make(map[uintptr]uintptr),
		signal: make(chan struct{}, 1),
	}
}

// Register records fd with its user data.
func (r *Reactor) Register(fd uintptr, _ reactor.FDEventType, userData uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return reactor.ErrClosed
	}
	r.regs[fd] = userData
	return nil
}

// Unregister forgets fd.
func (r *Reactor) Unregister(fd uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return reactor.ErrClosed
	}
	delete(r.regs, fd)
	return nil
}

// Registered reports whether fd is registered.
func (r *Reactor) Registered(fd uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.regs[fd]
	return ok
}

// Fire queues a readiness event for a registered fd.
func (r *Reactor) Fire(fd uintptr, ready reactor.FDEventType) bool {
	r.mu.Lock()
	userData, ok := r.regs[fd]
	if ok {
		r.ready = append(r.ready, reactor.Event{Fd: fd, UserData: userData, Ready: ready})
	}
	r.mu.Unlock()
	if ok {
		r.notify()
	}
	return ok
}

// FailWait makes every subsequent Wait return err.
func (r *Reactor) FailWait(err error) {
	r.mu.Lock()
	r.waitErr = err
	r.mu.Unlock()
	r.notify()
}

// SetCloseError makes Close return err.
func (r *Reactor) SetCloseError(err error) {
	r.mu.Lock()
	r.closeErr = err
	r.mu.Unlock()
}

// Wait blocks until events are fired, Wakeup is called or the reactor fails.
func (r *Reactor) Wait(events []reactor.Event) (int, error) {
	for {
		r.mu.Lock()
		switch {
		case r.closed:
			r.mu.Unlock()
			return 0, reactor.ErrClosed
		case r.waitErr != nil:
			err := r.waitErr
			r.mu.Unlock()
			return 0, err
		case len(r.ready) > 0:
			n := copy(events, r.ready)
			r.ready = r.ready[n:]
			r.mu.Unlock()
			return n, nil
		case r.woken:
			r.woken = false
			r.mu.Unlock()
			return 0, nil
		}
		r.mu.Unlock()
		<-r.signal
	}
}

// Wakeup interrupts a blocked Wait.
func (r *Reactor) Wakeup() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return reactor.ErrClosed
	}
	r.woken = true
	r.wakeups++
	r.mu.Unlock()
	r.notify()
	return nil
}

// Close marks the reactor closed.
func (r *Reactor) Close() error {
	r.mu.Lock()
	r.closed = true
	r.closes++
	err := r.closeErr
	r.mu.Unlock()
	r.notify()
	return err
}

// Closed reports whether Close was called.
func (r *Reactor) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// CloseCalls returns how many times Close was called.
func (r *Reactor) CloseCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// Wakeups returns how many times Wakeup was called.
func (r *Reactor) Wakeups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wakeups
}

func (r *Reactor) notify() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}
