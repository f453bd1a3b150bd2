// Package proxy implements the protocol-agnostic reactor component of the
// NAT core.
//
// A TransportProxy owns one listening channel, one selector and one bounded
// session store. A single dispatch goroutine waits on the selector and hands
// every ready event to the Protocol, which looks up or creates sessions
// through the Sessions view. An idle sweeper runs concurrently and reclaims
// sessions whose last activity is older than the session timeout.
package proxy
