//go:build linux
// +build linux

package udp

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nat/api"
	"github.com/momentics/hioload-nat/internal/netutil"
	"github.com/momentics/hioload-nat/proxy"
	"github.com/momentics/hioload-nat/reactor"
)

// OpenChannel binds the datagram socket and registers it for reads.
func (p *Protocol) OpenChannel(r reactor.EventReactor) (api.Channel, error) {
	fd, port, err := netutil.Bind(p.listen, unix.SOCK_DGRAM)
	if err != nil {
		return nil, fmt.Errorf("udp: %w", err)
	}
	if err := r.Register(uintptr(fd), reactor.EventRead, uintptr(fd)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("udp: register: %w", err)
	}
	p.fd = fd
	return netutil.NewChannel(fd, port), nil
}

// HandleReady drains up to the read batch of datagrams.
func (p *Protocol) HandleReady(ev reactor.Event, sessions proxy.Sessions[*Session]) error {
	if ev.Failed() && !ev.Readable() {
		return fmt.Errorf("udp: socket error on fd %d", ev.Fd)
	}
	var errs []error
	for i := 0; i < p.batch; i++ {
		n, from, err := unix.Recvfrom(p.fd, p.buf, 0)
		if err != nil {
			if !netutil.Temporary(err) {
				errs = append(errs, fmt.Errorf("udp: recvfrom: %w", err))
			}
			break
		}
		if err := p.deliver(netutil.AddrPort(from), p.buf[:n], sessions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deliver routes a datagram to the flow for its source port. The resolver
// is consulted on every datagram: a flow whose destination no longer
// matches is superseded, and a flow whose route is gone is finished.
func (p *Protocol) deliver(peer netip.AddrPort, payload []byte, sessions proxy.Sessions[*Session]) error {
	src := peer.Port()
	s, live := sessions.GetSession(src)
	dst, found := p.resolver.Lookup(src)
	if !found {
		if live {
			sessions.FinishSessionIf(src, s)
		}
		return fmt.Errorf("udp: datagram from %s: %w", peer, api.ErrNoRoute)
	}
	if !live || !sameEndpoint(s.Remote(), dst) {
		var err error
		if s, err = sessions.PickSession(src, dst.Addr(), dst.Port()); err != nil {
			return err
		}
	}
	s.setClient(peer)
	s.Active()
	return p.forwarder.Forward(s, payload)
}

func sameEndpoint(a, b netip.AddrPort) bool {
	return a.Port() == b.Port() && a.Addr().Unmap() == b.Addr().Unmap()
}
