// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"net"
)

// Toucher is notified of traffic on a connection.
type Toucher interface {
	Active()
}

// NetConn wraps a net.Conn and marks its session active on every
// successful read or write.
type NetConn struct {
	net.Conn
	session Toucher
}

// NewNetConn initializes a new NetConn.
func NewNetConn(conn net.Conn, session Toucher) *NetConn {
	return &NetConn{
		Conn:    conn,
		session: session,
	}
}

// Read marks activity when bytes arrive.
func (n *NetConn) Read(buf []byte) (int, error) {
	c, err := n.Conn.Read(buf)
	if c > 0 {
		n.session.Active()
	}
	return c, err
}

// Write marks activity when bytes leave.
func (n *NetConn) Write(buf []byte) (int, error) {
	c, err := n.Conn.Write(buf)
	if c > 0 {
		n.session.Active()
	}
	return c, err
}
