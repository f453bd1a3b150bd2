// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metrics for session, dispatch and NAT table observation.

package control

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-nat/nat"
	"github.com/momentics/hioload-nat/proxy"
)

const namespace = "hioload_nat"

var (
	_ proxy.Metrics = (*SessionMetrics)(nil)
	_ nat.Observer  = (*SessionMetrics)(nil)
)

// SessionMetrics records proxy and NAT table activity.
// All methods are nil-safe: calls on a nil *SessionMetrics are no-ops.
type SessionMetrics struct {
	// CreatedTotal counts sessions stored by PickSession, per proxy.
	CreatedTotal *prometheus.CounterVec
	// ReleasedTotal counts released sessions by proxy and reason:
	// "finished", "superseded", "idle", "evicted", "shutdown".
	ReleasedTotal *prometheus.CounterVec
	// Active is the number of live sessions per proxy.
	Active *prometheus.GaugeVec
	// Lifetime observes session lifetimes in seconds.
	Lifetime *prometheus.HistogramVec
	// EventsDispatched counts readiness events handed to protocol handlers.
	EventsDispatched *prometheus.CounterVec
	// EventsFailed counts handler errors and panics.
	EventsFailed *prometheus.CounterVec
	// WaitFailures counts selector failures that stopped a proxy.
	WaitFailures *prometheus.CounterVec
	// NatEntries is the NAT table size.
	NatEntries prometheus.Gauge
}

// NewSessionMetrics creates the metrics and registers them with reg.
// A nil reg leaves them unregistered. Collectors already registered by a
// previous instance are reused.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		CreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of sessions created",
		}, []string{"proxy"}),
		ReleasedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "released_total",
			Help:      "Total number of sessions released",
		}, []string{"proxy", "reason"}),
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of live sessions",
		}, []string{"proxy"}),
		Lifetime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "lifetime_seconds",
			Help:      "Lifetime of released sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"proxy"}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "events_dispatched_total",
			Help:      "Readiness events dispatched to protocol handlers",
		}, []string{"proxy"}),
		EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "events_failed_total",
			Help:      "Readiness events whose handler failed or panicked",
		}, []string{"proxy"}),
		WaitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "wait_failures_total",
			Help:      "Selector wait failures",
		}, []string{"proxy"}),
		NatEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nat",
			Name:      "entries",
			Help:      "Current number of NAT table entries",
		}),
	}

	if reg != nil {
		m.CreatedTotal = register(reg, m.CreatedTotal)
		m.ReleasedTotal = register(reg, m.ReleasedTotal)
		m.Active = register(reg, m.Active)
		m.Lifetime = register(reg, m.Lifetime)
		m.EventsDispatched = register(reg, m.EventsDispatched)
		m.EventsFailed = register(reg, m.EventsFailed)
		m.WaitFailures = register(reg, m.WaitFailures)
		m.NatEntries = register(reg, m.NatEntries)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// SessionCreated implements proxy.Metrics.
func (m *SessionMetrics) SessionCreated(proxy string) {
	if m == nil {
		return
	}
	m.CreatedTotal.WithLabelValues(proxy).Inc()
}

// SessionReleased implements proxy.Metrics.
func (m *SessionMetrics) SessionReleased(proxy, reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.ReleasedTotal.WithLabelValues(proxy, reason).Inc()
	if lifetime > 0 {
		m.Lifetime.WithLabelValues(proxy).Observe(lifetime.Seconds())
	}
}

// SetActiveSessions implements proxy.Metrics.
func (m *SessionMetrics) SetActiveSessions(proxy string, n int) {
	if m == nil {
		return
	}
	m.Active.WithLabelValues(proxy).Set(float64(n))
}

// EventDispatched implements proxy.Metrics.
func (m *SessionMetrics) EventDispatched(proxy string) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(proxy).Inc()
}

// EventFailed implements proxy.Metrics.
func (m *SessionMetrics) EventFailed(proxy string) {
	if m == nil {
		return
	}
	m.EventsFailed.WithLabelValues(proxy).Inc()
}

// WaitFailed implements proxy.Metrics.
func (m *SessionMetrics) WaitFailed(proxy string) {
	if m == nil {
		return
	}
	m.WaitFailures.WithLabelValues(proxy).Inc()
}

// SetNatEntries implements nat.Observer.
func (m *SessionMetrics) SetNatEntries(n int) {
	if m == nil {
		return
	}
	m.NatEntries.Set(float64(n))
}
