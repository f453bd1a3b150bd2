//go:build linux
// +build linux

package netutil

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Channel is an api.Channel over a raw socket descriptor.
type Channel struct {
	fd   int
	port uint16
	once sync.Once
	err  error
}

// NewChannel wraps fd bound to port.
func NewChannel(fd int, port uint16) *Channel {
	return &Channel{fd: fd, port: port}
}

func (c *Channel) Fd() uintptr       { return uintptr(c.fd) }
func (c *Channel) LocalPort() uint16 { return c.port }

// Close closes the descriptor once.
func (c *Channel) Close() error {
	c.once.Do(func() {
		c.err = unix.Close(c.fd)
	})
	return c.err
}
