// File: api/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Session contract shared by the session store, the transport proxy and
// the protocol implementations.

package api

import (
	"io"
	"net/netip"
	"time"
)

// Session is one tracked client flow, keyed by its local source port.
//
// Identity fields never change after construction. LastActive only moves
// forward, and Finished flips from false to true at most once. Close releases
// protocol resources and must tolerate repeated calls.
type Session interface {
	SourcePort() uint16
	RemoteAddr() netip.Addr
	RemotePort() uint16

	// LastActive reports the last observed network activity.
	LastActive() time.Time
	// Active marks the session as live now.
	Active()

	Finished() bool
	// Finish marks the session finished and reports whether this call did it.
	Finish() bool

	io.Closer
}
