//go:build !linux
// +build !linux

package tcp

import (
	"fmt"

	"github.com/momentics/hioload-nat/api"
	"github.com/momentics/hioload-nat/proxy"
	"github.com/momentics/hioload-nat/reactor"
)

// OpenChannel is not available on this platform.
func (p *Protocol) OpenChannel(reactor.EventReactor) (api.Channel, error) {
	return nil, fmt.Errorf("tcp: %w", api.ErrNotSupported)
}

// HandleReady is not available on this platform.
func (p *Protocol) HandleReady(reactor.Event, proxy.Sessions[*Session]) error {
	return fmt.Errorf("tcp: %w", api.ErrNotSupported)
}
