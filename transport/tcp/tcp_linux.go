//go:build linux
// +build linux

package tcp

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nat/api"
	"github.com/momentics/hioload-nat/internal/logger"
	"github.com/momentics/hioload-nat/internal/netutil"
	"github.com/momentics/hioload-nat/proxy"
	"github.com/momentics/hioload-nat/reactor"
)

// OpenChannel binds and listens, then registers the socket for reads.
func (p *Protocol) OpenChannel(r reactor.EventReactor) (api.Channel, error) {
	fd, port, err := netutil.Bind(p.listen, unix.SOCK_STREAM)
	if err != nil {
		return nil, fmt.Errorf("tcp: %w", err)
	}
	if err := unix.Listen(fd, p.backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: listen: %w", err)
	}
	if err := r.Register(uintptr(fd), reactor.EventRead, uintptr(fd)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: register: %w", err)
	}
	p.fd = fd
	return netutil.NewChannel(fd, port), nil
}

// HandleReady accepts pending connections up to the accept batch.
func (p *Protocol) HandleReady(ev reactor.Event, sessions proxy.Sessions[*Session]) error {
	if ev.Failed() && !ev.Readable() {
		return fmt.Errorf("tcp: socket error on fd %d", ev.Fd)
	}
	var errs []error
	for i := 0; i < p.batch; i++ {
		nfd, sa, err := unix.Accept4(p.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if !netutil.Temporary(err) && err != unix.ECONNABORTED {
				errs = append(errs, fmt.Errorf("tcp: accept: %w", err))
			}
			break
		}
		if err := p.serve(nfd, sa, sessions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Protocol) serve(nfd int, sa unix.Sockaddr, sessions proxy.Sessions[*Session]) error {
	f := os.NewFile(uintptr(nfd), "tcp-client")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("tcp: wrap accepted socket: %w", err)
	}

	peer := netutil.AddrPort(sa)
	dst, ok := p.resolver.Lookup(peer.Port())
	if !ok {
		conn.Close()
		return fmt.Errorf("tcp: connection from %s: %w", peer, api.ErrNoRoute)
	}
	s, err := sessions.PickSession(peer.Port(), dst.Addr(), dst.Port())
	if err != nil {
		conn.Close()
		return err
	}
	if err := s.attach(conn); err != nil {
		conn.Close()
		return fmt.Errorf("tcp: attach %s: %w", peer, err)
	}
	s.Active()

	if p.dial == nil && p.handler == nil {
		return nil
	}
	src := peer.Port()
	finish := func() {
		if sessions.FinishSessionIf(src, s) {
			return
		}
		if err := s.Close(); err != nil {
			logger.Debug("tcp session close", logger.KeySourcePort, src, logger.KeyError, err)
		}
	}
	go p.serveSession(s, finish)
	return nil
}
