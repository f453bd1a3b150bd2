package nat

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"
)

// Entry records the original destination of a flow.
type Entry struct {
	RemoteIP   netip.Addr
	RemotePort uint16

	lastTime atomic.Int64 // unix nanoseconds
}

func newEntry(ip netip.Addr, port uint16, stamp int64) *Entry {
	e := &Entry{RemoteIP: ip.Unmap(), RemotePort: port}
	e.lastTime.Store(stamp)
	return e
}

// LastTime returns the time of the last pick.
func (e *Entry) LastTime() time.Time {
	return time.Unix(0, e.lastTime.Load())
}

// Remote returns the destination as an address/port pair.
func (e *Entry) Remote() netip.AddrPort {
	return netip.AddrPortFrom(e.RemoteIP, e.RemotePort)
}

func (e *Entry) matches(ip netip.Addr, port uint16) bool {
	return e.RemoteIP == ip.Unmap() && e.RemotePort == port
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s@%d", e.Remote(), e.lastTime.Load())
}

// Reason describes why an entry left the table.
type Reason int

const (
	// ReasonReplaced is a pick or create for the port with a different destination.
	ReasonReplaced Reason = iota
	// ReasonExpired is a sweep of an entry older than the TTL.
	ReasonExpired
	// ReasonRemoved is an explicit Remove.
	ReasonRemoved
)

func (r Reason) String() string {
	switch r {
	case ReasonReplaced:
		return "replaced"
	case ReasonExpired:
		return "expired"
	case ReasonRemoved:
		return "removed"
	default:
		return "unknown"
	}
}
