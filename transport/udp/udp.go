// File: transport/udp/udp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// UDP protocol hooks for proxy.TransportProxy.

package udp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/momentics/hioload-nat/internal/session"
	"github.com/momentics/hioload-nat/transport"
)

const (
	defaultBufferSize  = 64 * 1024
	defaultReadBatch   = 64
	defaultDialTimeout = 5 * time.Second
)

// Resolver returns the original destination recorded for a source port.
// nat.Table implements it.
type Resolver interface {
	Lookup(port uint16) (netip.AddrPort, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(port uint16) (netip.AddrPort, bool)

// Lookup calls f.
func (f ResolverFunc) Lookup(port uint16) (netip.AddrPort, bool) { return f(port) }

// Forwarder delivers a datagram payload for a session.
type Forwarder interface {
	Forward(s *Session, payload []byte) error
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(s *Session, payload []byte) error

// Forward calls f.
func (f ForwarderFunc) Forward(s *Session, payload []byte) error { return f(s, payload) }

// DialFunc opens the upstream socket of a session.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Session is a UDP flow with its upstream socket.
type Session struct {
	*session.Base

	upstream net.Conn
	mu       sync.Mutex
	client   netip.AddrPort
	once     sync.Once
	closeErr error
}

// Upstream returns the socket connected to the original destination.
func (s *Session) Upstream() net.Conn { return s.upstream }

// Client returns the last peer address seen for this flow.
func (s *Session) Client() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) setClient(peer netip.AddrPort) {
	s.mu.Lock()
	s.client = peer
	s.mu.Unlock()
}

// Close closes the upstream socket once.
func (s *Session) Close() error {
	s.once.Do(func() {
		if s.upstream != nil {
			s.closeErr = s.upstream.Close()
		}
	})
	return s.closeErr
}

// Option customizes a Protocol.
type Option func(*Protocol)

// WithForwarder replaces the default upstream writer.
func WithForwarder(f Forwarder) Option {
	return func(p *Protocol) {
		if f != nil {
			p.forwarder = f
		}
	}
}

// WithDialer replaces the upstream dialer.
func WithDialer(d DialFunc) Option {
	return func(p *Protocol) {
		if d != nil {
			p.dial = d
		}
	}
}

// WithBufferSize sets the receive buffer size.
func WithBufferSize(n int) Option {
	return func(p *Protocol) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithReadBatch bounds the datagrams drained per readiness event.
func WithReadBatch(n int) Option {
	return func(p *Protocol) {
		if n > 0 {
			p.batch = n
		}
	}
}

// Protocol supplies the UDP hooks: a datagram channel, session creation
// with an upstream socket, and per-datagram dispatch.
type Protocol struct {
	listen    netip.AddrPort
	resolver  Resolver
	forwarder Forwarder
	dial      DialFunc
	bufSize   int
	batch     int

	fd  int
	buf []byte
}

// New creates a UDP protocol listening on listen.
func New(listen netip.AddrPort, resolver Resolver, opts ...Option) *Protocol {
	d := &net.Dialer{Timeout: defaultDialTimeout}
	p := &Protocol{
		listen:    listen,
		resolver:  resolver,
		forwarder: ForwarderFunc(writeUpstream),
		dial:      d.DialContext,
		bufSize:   defaultBufferSize,
		batch:     defaultReadBatch,
		fd:        -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buf = make([]byte, p.bufSize)
	return p
}

// Name implements proxy.Protocol.
func (p *Protocol) Name() string { return "udp" }

// NewSession dials the original destination.
func (p *Protocol) NewSession(src uint16, addr netip.Addr, port uint16) (*Session, error) {
	remote := netip.AddrPortFrom(addr, port)
	s := &Session{Base: session.NewBase(src, addr, port)}
	conn, err := p.dial(context.Background(), "udp", remote.String())
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", remote, err)
	}
	s.upstream = transport.NewNetConn(conn, s)
	return s, nil
}

func writeUpstream(s *Session, payload []byte) error {
	if s.upstream == nil {
		return nil
	}
	if _, err := s.upstream.Write(payload); err != nil {
		return fmt.Errorf("udp: forward to %s: %w", s.Remote(), err)
	}
	return nil
}
