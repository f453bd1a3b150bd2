// File: proxy/proxy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TransportProxy couples a protocol's listening channel with a readiness
// selector, a bounded session store and an idle sweeper.

package proxy

import (
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/momentics/hioload-nat/api"
	"github.com/momentics/hioload-nat/internal/logger"
	"github.com/momentics/hioload-nat/internal/session"
	"github.com/momentics/hioload-nat/reactor"
)

// Sessions is the session table view handed to protocol handlers.
type Sessions[S session.Entry] interface {
	// PickSession creates a session for src and stores it, superseding any
	// previous session for the same port.
	PickSession(src uint16, addr netip.Addr, port uint16) (S, error)
	// GetSession returns the live session for src.
	GetSession(src uint16) (S, bool)
	// FinishSession removes and releases the session for src.
	FinishSession(src uint16) (S, bool)
	// FinishSessionIf removes and releases s only while it is still the
	// session stored for src.
	FinishSessionIf(src uint16, s S) bool
}

// Protocol supplies the protocol specific hooks driven by the proxy.
type Protocol[S session.Entry] interface {
	Name() string
	// OpenChannel creates the listening channel and registers it with r.
	OpenChannel(r reactor.EventReactor) (api.Channel, error)
	// HandleReady processes one readiness event on the dispatch goroutine.
	HandleReady(ev reactor.Event, sessions Sessions[S]) error
	// NewSession builds a session for a new flow.
	NewSession(src uint16, addr netip.Addr, port uint16) (S, error)
}

// Stats is a point-in-time view of a proxy for debug probes.
type Stats struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	State    string `json:"state"`
	Port     uint16 `json:"port"`
	Sessions int    `json:"sessions"`
	Capacity int    `json:"capacity"`
}

// TransportProxy runs a single dispatch goroutine over a protocol channel.
type TransportProxy[S session.Entry] struct {
	id       string
	name     string
	proto    Protocol[S]
	cfg      config
	selector reactor.EventReactor
	channel  api.Channel
	store    *session.Store[S]
	sweeper  *session.Sweeper[S]
	metrics  Metrics

	state  atomic.Int32
	done   chan struct{}
	closed chan struct{}
}

// New opens the selector and the protocol channel, then starts dispatching
// and sweeping. On failure everything opened so far is closed.
func New[S session.Entry](proto Protocol[S], opts ...Option) (*TransportProxy[S], error) {
	if proto == nil {
		return nil, fmt.Errorf("proxy: nil protocol: %w", api.ErrInvalidArgument)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSessions < 1 {
		return nil, fmt.Errorf("proxy: max sessions %d: %w", cfg.maxSessions, api.ErrInvalidArgument)
	}
	if cfg.timeout <= 0 {
		return nil, fmt.Errorf("proxy: session timeout %s: %w", cfg.timeout, api.ErrInvalidArgument)
	}
	if cfg.batch < 1 {
		cfg.batch = DefaultEventBatch
	}

	p := &TransportProxy[S]{
		id:      uuid.NewString(),
		name:    cfg.name,
		proto:   proto,
		cfg:     cfg,
		metrics: cfg.metrics,
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	if p.name == "" {
		p.name = proto.Name()
	}
	p.store = session.NewStore[S](cfg.maxSessions, p.release)
	p.sweeper = session.NewSweeper(p.store, cfg.timeout,
		session.WithClock(cfg.now),
		session.WithSweepObserver(p.swept))

	selector := cfg.selector
	if selector == nil {
		var err error
		if selector, err = reactor.NewReactor(); err != nil {
			return nil, api.WrapError(api.ErrCodeConstruction, "open selector", err).
				WithContext(logger.KeyProxy, p.name)
		}
	}
	ch, err := proto.OpenChannel(selector)
	if err != nil {
		if cerr := selector.Close(); cerr != nil {
			logger.Warn("closing selector failed", logger.KeyProxy, p.name, logger.KeyError, cerr)
		}
		return nil, api.WrapError(api.ErrCodeConstruction, "open channel", err).
			WithContext(logger.KeyProxy, p.name)
	}
	p.selector = selector
	p.channel = ch

	p.state.Store(int32(StateRunning))
	go p.run()
	p.sweeper.Start()

	logger.Info("proxy started",
		logger.KeyProxy, p.name,
		logger.KeyProxyID, p.id,
		logger.KeyPort, ch.LocalPort())
	return p, nil
}

// ID returns the instance identifier.
func (p *TransportProxy[S]) ID() string { return p.id }

// Name returns the protocol name.
func (p *TransportProxy[S]) Name() string { return p.name }

// State returns the lifecycle phase.
func (p *TransportProxy[S]) State() State { return State(p.state.Load()) }

// Port returns the locally bound port of the channel.
func (p *TransportProxy[S]) Port() uint16 { return p.channel.LocalPort() }

// Len returns the number of live sessions.
func (p *TransportProxy[S]) Len() int { return p.store.Len() }

// Done is closed when the dispatch goroutine has exited.
func (p *TransportProxy[S]) Done() <-chan struct{} { return p.done }

// Stats returns a snapshot for debug endpoints.
func (p *TransportProxy[S]) Stats() Stats {
	return Stats{
		Name:     p.name,
		ID:       p.id,
		State:    p.State().String(),
		Port:     p.Port(),
		Sessions: p.store.Len(),
		Capacity: p.store.Capacity(),
	}
}

// PickSession always builds a new session through the protocol factory and
// stores it under src. A factory error leaves the table unchanged.
func (p *TransportProxy[S]) PickSession(src uint16, addr netip.Addr, port uint16) (S, error) {
	var zero S
	if p.State() >= StateClosing {
		return zero, api.ErrProxyClosed
	}
	s, err := p.proto.NewSession(src, addr, port)
	if err != nil {
		return zero, fmt.Errorf("%s: new session for port %d: %w", p.name, src, err)
	}
	if err := p.store.Put(src, s); err != nil {
		s.Finish()
		session.CloseQuietly(s, session.RemovalShutdown)
		if errors.Is(err, api.ErrStoreClosed) {
			err = api.ErrProxyClosed
		}
		return zero, err
	}
	p.metrics.SessionCreated(p.name)
	p.metrics.SetActiveSessions(p.name, p.store.Len())
	logger.Debug("session created",
		logger.KeyProxy, p.name,
		logger.KeySourcePort, src,
		logger.KeyRemote, netip.AddrPortFrom(addr, port).String())
	return s, nil
}

// GetSession returns the live session for src.
func (p *TransportProxy[S]) GetSession(src uint16) (S, bool) {
	s, ok := p.store.Get(src)
	if !ok || s.Finished() {
		var zero S
		return zero, false
	}
	return s, true
}

// FinishSession removes the session for src; its release hook closes it.
func (p *TransportProxy[S]) FinishSession(src uint16) (S, bool) {
	return p.store.Remove(src)
}

// FinishSessionIf removes s if it is still stored under src.
func (p *TransportProxy[S]) FinishSessionIf(src uint16, s S) bool {
	return p.store.RemoveIf(src, s)
}

// ReleaseRoute finishes the session for src if it still targets remote.
// It is driven by NAT entry releases so a recycled port never keeps a flow
// to its previous destination.
func (p *TransportProxy[S]) ReleaseRoute(src uint16, remote netip.AddrPort) bool {
	s, ok := p.store.Peek(src)
	if !ok || s.RemotePort() != remote.Port() || s.RemoteAddr().Unmap() != remote.Addr().Unmap() {
		return false
	}
	return p.store.RemoveIf(src, s)
}

// Close evicts all sessions, stops the sweeper and the dispatch goroutine,
// then closes the selector and the channel. Only the call that moves the
// proxy out of Running does the work and returns its error; other calls
// wait for it to finish and return nil.
func (p *TransportProxy[S]) Close() error {
	if !p.beginClose() {
		<-p.closed
		return nil
	}
	return p.shutdown(true)
}

// beginClose claims the shutdown. Exactly one caller wins.
func (p *TransportProxy[S]) beginClose() bool {
	return p.state.CompareAndSwap(int32(StateRunning), int32(StateClosing))
}

// shutdown runs after a successful beginClose. wakeLoop is false when the
// dispatch goroutine itself is shutting down.
func (p *TransportProxy[S]) shutdown(wakeLoop bool) error {
	defer close(p.closed)
	evicted := p.store.Close()
	p.sweeper.Stop()

	if wakeLoop {
		if err := p.selector.Wakeup(); err != nil {
			logger.Warn("selector wakeup failed", logger.KeyProxy, p.name, logger.KeyError, err)
		}
		<-p.done
	}

	var errs []error
	if err := p.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if err := p.selector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close selector: %w", err))
	}
	p.state.Store(int32(StateClosed))
	p.metrics.SetActiveSessions(p.name, 0)

	logger.Info("proxy closed",
		logger.KeyProxy, p.name,
		logger.KeyProxyID, p.id,
		logger.KeyCount, evicted)
	return errors.Join(errs...)
}

// run is the dispatch goroutine.
func (p *TransportProxy[S]) run() {
	defer close(p.done)

	events := make([]reactor.Event, p.cfg.batch)
	pending := queue.New()
	for p.State() == StateRunning {
		n, err := p.selector.Wait(events)
		if err != nil {
			if p.State() != StateRunning {
				return
			}
			p.metrics.WaitFailed(p.name)
			logger.Error("selector wait failed, stopping proxy",
				logger.KeyProxy, p.name, logger.KeyError, err)
			if !p.beginClose() {
				// Close won; it is waiting for this goroutine to exit.
				return
			}
			if err := p.shutdown(false); err != nil {
				logger.Warn("proxy shutdown incomplete", logger.KeyProxy, p.name, logger.KeyError, err)
			}
			return
		}
		for i := 0; i < n; i++ {
			pending.Add(events[i])
		}
		for pending.Length() > 0 {
			ev := pending.Remove().(reactor.Event)
			if p.State() != StateRunning {
				return
			}
			p.dispatch(ev)
		}
	}
}

func (p *TransportProxy[S]) dispatch(ev reactor.Event) {
	p.metrics.EventDispatched(p.name)
	defer func() {
		if r := recover(); r != nil {
			p.metrics.EventFailed(p.name)
			logger.Warn("event handler panicked",
				logger.KeyProxy, p.name, logger.KeyError, fmt.Sprint(r))
		}
	}()
	if err := p.proto.HandleReady(ev, p); err != nil {
		p.metrics.EventFailed(p.name)
		logger.Warn("event handling failed",
			logger.KeyProxy, p.name, logger.KeyError, err)
	}
}

// release is the store's release hook.
func (p *TransportProxy[S]) release(s S, reason session.Removal) {
	session.CloseQuietly(s, reason)

	msg := "session removed"
	if reason.Evicted() {
		msg = "session terminated"
	}
	logger.Debug(msg,
		logger.KeyProxy, p.name,
		logger.KeySourcePort, s.SourcePort(),
		logger.KeyReason, reason.String())

	var lifetime time.Duration
	if c, ok := any(s).(interface{ CreatedAt() time.Time }); ok {
		lifetime = p.cfg.now().Sub(c.CreatedAt())
	}
	p.metrics.SessionReleased(p.name, reason.String(), lifetime)
	p.metrics.SetActiveSessions(p.name, p.store.Len())
}

func (p *TransportProxy[S]) swept(removed int) {
	if removed > 0 {
		logger.Debug("idle sessions reclaimed", logger.KeyProxy, p.name, logger.KeyCount, removed)
	}
}
