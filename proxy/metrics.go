package proxy

import "time"

// Metrics receives proxy lifecycle observations. control.SessionMetrics
// implements it.
type Metrics interface {
	SessionCreated(proxy string)
	SessionReleased(proxy, reason string, lifetime time.Duration)
	SetActiveSessions(proxy string, n int)
	EventDispatched(proxy string)
	EventFailed(proxy string)
	WaitFailed(proxy string)
}

type nopMetrics struct{}

func (nopMetrics) SessionCreated(string)                         {}
func (nopMetrics) SessionReleased(string, string, time.Duration) {}
func (nopMetrics) SetActiveSessions(string, int)                 {}
func (nopMetrics) EventDispatched(string)                        {}
func (nopMetrics) EventFailed(string)                            {}
func (nopMetrics) WaitFailed(string)                             {}
