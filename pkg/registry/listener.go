package registry

import (
	"context"
	"net"

	"github.com/mcgate/gate/pkg/proxyproto"
)

// Listener is the process-wide record of a started listener (spec.md §3).
type Listener struct {
	ID        uint64
	Host      string
	Port      int
	ProxyMode proxyproto.Mode

	Net    net.Listener
	cancel context.CancelFunc
}

// NewListener builds a Listener bound to a freshly derived, cancellable
// accept-loop context.
func NewListener(parent context.Context, id uint64, host string, port int, mode proxyproto.Mode, ln net.Listener) (*Listener, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Listener{ID: id, Host: host, Port: port, ProxyMode: mode, Net: ln, cancel: cancel}, ctx
}

// Stop cancels the listener's accept loop and closes its socket. Existing
// connections continue (spec.md §5: "stopping a listener cancels only its
// accept loop").
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.Net != nil {
		_ = l.Net.Close()
	}
}
