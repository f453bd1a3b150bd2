package fake

import (
	"net/netip"
	"sync"

	"github.com/momentics/hioload-nat/api"
	"github.com/momentics/hioload-nat/proxy"
	"github.com/momentics/hioload-nat/reactor"
)

// HandleFunc processes one readiness event.
type HandleFunc func(ev reactor.Event, sessions proxy.Sessions[*Session]) error

// Protocol is a scriptable proxy.Protocol over fake sessions.
type Protocol struct {
	// ChannelFd and Port describe the channel returned by OpenChannel.
	ChannelFd uintptr
	Port      uint16
	// OpenErr makes OpenChannel fail.
	OpenErr error

	mu         sync.Mutex
	handle     HandleFunc
	sessionErr error
	channel    *Channel
	sessions   []*Session
	events     []reactor.Event
}

// NewProtocol creates a protocol whose channel uses fd and port.
func NewProtocol(fd uintptr, port uint16) *Protocol {
	return &Protocol{ChannelFd: fd, Port: port}
}

// Name implements proxy.Protocol.
func (p *Protocol) Name() string { return "fake" }

// OpenChannel registers the channel fd with r.
func (p *Protocol) OpenChannel(r reactor.EventReactor) (api.Channel, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	ch := NewChannel(p.ChannelFd, p.Port)
	if err := r.Register(ch.Fd(), reactor.EventRead, ch.Fd()); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.channel = ch
	p.mu.Unlock()
	return ch, nil
}

// OnReady installs the event handler.
func (p *Protocol) OnReady(fn HandleFunc) {
	p.mu.Lock()
	p.handle = fn
	p.mu.Unlock()
}

// FailNewSession makes NewSession return err; nil restores success.
func (p *Protocol) FailNewSession(err error) {
	p.mu.Lock()
	p.sessionErr = err
	p.mu.Unlock()
}

// HandleReady records ev and calls the installed handler.
func (p *Protocol) HandleReady(ev reactor.Event, sessions proxy.Sessions[*Session]) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	fn := p.handle
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ev, sessions)
}

// NewSession creates and records a fake session.
func (p *Protocol) NewSession(src uint16, addr netip.Addr, port uint16) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	s := NewSession(src, addr, port)
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Channel returns the channel opened by OpenChannel.
func (p *Protocol) Channel() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

// Sessions returns all sessions created so far.
func (p *Protocol) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Events returns all events handled so far.
func (p *Protocol) Events() []reactor.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]reactor.Event(nil), p.events...)
}
