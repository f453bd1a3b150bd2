// File: proxy/options.go
// Package proxy defines functional options for TransportProxy.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package proxy

import (
	"time"

	"github.com/momentics/hioload-nat/reactor"
)

const (
	// DefaultMaxSessions bounds live sessions per proxy.
	DefaultMaxSessions = 60
	// DefaultSessionTimeout is the idle period after which a session is reclaimed.
	DefaultSessionTimeout = 60 * time.Second
	// DefaultEventBatch is the number of readiness events collected per Wait.
	DefaultEventBatch = 64
)

// Option customizes proxy initialization.
type Option func(*config)

type config struct {
	maxSessions int
	timeout     time.Duration
	name        string
	selector    reactor.EventReactor
	metrics     Metrics
	now         func() time.Time
	batch       int
}

func defaultConfig() config {
	return config{
		maxSessions: DefaultMaxSessions,
		timeout:     DefaultSessionTimeout,
		metrics:     nopMetrics{},
		now:         time.Now,
		batch:       DefaultEventBatch,
	}
}

// WithMaxSessions sets the session store capacity.
func WithMaxSessions(n int) Option {
	return func(c *config) {
		c.maxSessions = n
	}
}

// WithSessionTimeout sets the idle timeout and sweep period.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithName overrides the protocol name used in logs and metrics.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithReactor supplies the selector. The proxy takes ownership and closes it.
func WithReactor(r reactor.EventReactor) Option {
	return func(c *config) {
		c.selector = r
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides the time source used by the idle sweeper.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithEventBatch overrides the number of events collected per Wait.
func WithEventBatch(n int) Option {
	return func(c *config) {
		c.batch = n
	}
}
