// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface for IO multiplexing.

package reactor

import "errors"

// ErrClosed is returned by operations on a closed reactor.
var ErrClosed = errors.New("reactor: closed")

// FDEventType is a bit set of readiness conditions.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// EventReactor defines basic reactor operations across OS platforms.
//
// Wait is driven by a single goroutine. Wakeup, Register and Unregister may
// be called from any goroutine.
type EventReactor interface {
	// Register an FD for IO notifications on the given conditions.
	Register(fd uintptr, events FDEventType, userData uintptr) error

	// Unregister stops notifications for fd. Events for fd already collected
	// by the kernel but not yet returned are dropped.
	Unregister(fd uintptr) error

	// Wait blocks until events are available and writes into the output slice.
	// Returns number of events written or an error. A Wakeup makes Wait
	// return, possibly with zero events.
	Wait(events []Event) (n int, err error)

	// Wakeup interrupts a blocked Wait.
	Wakeup() error

	// Close cleans up resources. It does not interrupt a blocked Wait;
	// call Wakeup and let the waiter return first.
	Close() error
}

// Event contains event information returned by Wait call.
type Event struct {
	Fd       uintptr     // File descriptor.
	UserData uintptr     // User-provided data.
	Ready    FDEventType // Conditions reported ready.
}

// Readable reports whether the descriptor can be read without blocking.
func (e Event) Readable() bool { return e.Ready&EventRead != 0 }

// Writable reports whether the descriptor can be written without blocking.
func (e Event) Writable() bool { return e.Ready&EventWrite != 0 }

// Failed reports an error or hang-up condition on the descriptor.
func (e Event) Failed() bool { return e.Ready&EventError != 0 }
