// File: transport/tcp/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP protocol hooks for proxy.TransportProxy.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/momentics/hioload-nat/api"
	"github.com/momentics/hioload-nat/internal/logger"
	"github.com/momentics/hioload-nat/internal/session"
	"github.com/momentics/hioload-nat/transport"
)

const (
	defaultBacklog     = 128
	defaultAcceptBatch = 64
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

// DialFunc opens the upstream connection of a session.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Handler serves an accepted session on its own goroutine, after the
// upstream connection is established. finish removes the session from the
// proxy and closes its connections.
type Handler func(s *Session, finish func())

// Session is a TCP flow: the accepted client connection and, when a
// dialer is configured, the upstream connection.
type Session struct {
	*session.Base

	mu       sync.Mutex
	client   net.Conn
	upstream net.Conn
	closed   bool
	once     sync.Once
	closeErr error
}

// Client returns the accepted connection, nil until attached.
func (s *Session) Client() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Upstream returns the connection to the original destination, if any.
func (s *Session) Upstream() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

func (s *Session) attach(conn net.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrSessionFinished
	}
	s.client = transport.NewNetConn(conn, s)
	return nil
}

func (s *Session) attachUpstream(conn net.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrSessionFinished
	}
	s.upstream = transport.NewNetConn(conn, s)
	return nil
}

// Close closes both connections once.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		client, upstream := s.client, s.upstream
		s.mu.Unlock()

		var errs []error
		if client != nil {
			errs = append(errs, client.Close())
		}
		if upstream != nil {
			errs = append(errs, upstream.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Relay copies bytes between the client and upstream connections until
// either side stops, then finishes the session.
func Relay(s *Session, finish func()) {
	defer finish()
	client, upstream := s.Client(), s.Upstream()
	if client == nil || upstream == nil {
		return
	}
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, client)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
}

// Option customizes a Protocol.
type Option func(*Protocol)

// WithHandler sets the per-session handler.
func WithHandler(h Handler) Option {
	return func(p *Protocol) {
		p.handler = h
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

// WithoutUpstream keeps sessions to the accepted connection only.
func WithoutUpstream() Option {
	return func(p *Protocol) {
		p.dial = nil
	}
}

// WithBacklog sets the listen backlog.
func WithBacklog(n int) Option {
	return func(p *Protocol) {
		if n > 0 {
			p.backlog = n
		}
	}
}

// Protocol supplies the TCP hooks: a listening channel, session creation
// and connection acceptance.
type Protocol struct {
	listen   netip.AddrPort
	resolver Resolver
	handler  Handler
	dial     DialFunc
	backlog  int
	batch    int

	fd int
}

// New creates a TCP protocol listening on listen.
func New(listen netip.AddrPort, resolver Resolver, opts ...Option) *Protocol {
	d := &net.Dialer{Timeout: defaultDialTimeout}
	p := &Protocol{
		listen:   listen,
		resolver: resolver,
		dial:     d.DialContext,
		backlog:  defaultBacklog,
		batch:    defaultAcceptBatch,
		fd:       -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements proxy.Protocol.
func (p *Protocol) Name() string { return "tcp" }

// NewSession records the original destination. The upstream connection is
// dialed later on the session's own goroutine.
func (p *Protocol) NewSession(src uint16, addr netip.Addr, port uint16) (*Session, error) {
	return &Session{Base: session.NewBase(src, addr, port)}, nil
}

// connect dials the session's destination. The dial is abandoned when the
// session finishes first.
func (p *Protocol) connect(s *Session) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	remote := s.Remote()
	conn, err := p.dial(ctx, "tcp", remote.String())
	if err != nil {
		return fmt.Errorf("tcp: dial %s: %w", remote, err)
	}
	if err := s.attachUpstream(conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// serveSession runs on its own goroutine: it connects upstream, then hands
// the session to the handler.
func (p *Protocol) serveSession(s *Session, finish func()) {
	if p.dial != nil {
		if err := p.connect(s); err != nil {
			logger.Debug("tcp upstream unavailable",
				logger.KeySourcePort, s.SourcePort(),
				logger.KeyRemote, s.Remote().String(),
				logger.KeyError, err)
			finish()
			return
		}
	}
	if p.handler != nil {
		p.handler(s, finish)
	}
}
