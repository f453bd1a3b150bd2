package fake

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nat/internal/session"
)

// Session is a session double counting Close calls.
type Session struct {
	*session.Base
	closes   atomic.Int32
	mu       sync.Mutex
	closeErr error
}

// NewSession creates a session for the given flow.
func NewSession(src uint16, addr netip.Addr, port uint16) *Session {
	return &Session{Base: session.NewBase(src, addr, port)}
}

// Close counts the call and returns the configured error.
func (s *Session) Close() error {
	s.closes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// SetCloseError makes Close return err.
func (s *Session) SetCloseError(err error) {
	s.mu.Lock()
	s.closeErr = err
	s.mu.Unlock()
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int { return int(s.closes.Load()) }

// Channel is an api.Channel double.
type Channel struct {
	fd     uintptr
	port   uint16
	closes atomic.Int32
}

// NewChannel creates a channel with the given descriptor and port.
func NewChannel(fd uintptr, port uint16) *Channel {
	return &Channel{fd: fd, port: port}
}

func (c *Channel) Fd() uintptr       { return c.fd }
func (c *Channel) LocalPort() uint16 { return c.port }

// Close counts the call.
func (c *Channel) Close() error {
	c.closes.Add(1)
	return nil
}

// Closes returns how many times Close was called.
func (c *Channel) Closes() int { return int(c.closes.Load()) }
