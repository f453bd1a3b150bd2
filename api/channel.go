// File: api/channel.go
// Author: momentics <momentics@gmail.com>
//
// Server-side channel contract: the listening or bound socket a protocol
// registers with the reactor.

package api

// Channel is a protocol's server socket as seen by the transport proxy.
type Channel interface {
	// Fd returns the OS descriptor registered with the reactor.
	Fd() uintptr

	// LocalPort reports the locally bound port. It has no side effects.
	LocalPort() uint16

	// Close releases the descriptor.
	Close() error
}
