// Package dial establishes the backend connection for a login-path
// Connection: direct TCP, or through a SOCKS5 upstream, optionally
// followed by an outbound PROXY Protocol header (spec.md §4.5, §4.2, §9).
package dial

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mcgate/gate/pkg/proxyproto"
	"github.com/mcgate/gate/pkg/socks5"
)

// Result is a successfully established backend connection plus the
// resolved destination port the handshake replay must use.
type Result struct {
	Conn       net.Conn
	RemotePort uint16
}

// Options configures a single dial attempt.
type Options struct {
	RemoteHost string
	RemotePort uint16
	// Proxy, if non-empty, is a "socks5://host:port[?user:pass]" URL.
	Proxy string
	// ProxyProtocolVersion is 0 (none), 1, or 2: emitted to the backend
	// socket after the connection (and any SOCKS5 negotiation) completes.
	ProxyProtocolVersion int
	ClientAddr           net.Addr
	Timeout              time.Duration
}

// Dial performs the backend connection and, if requested, writes the
// outbound PROXY Protocol header. Per spec.md §9's resolved Open Question,
// when both a SOCKS5 upstream and a PROXY Protocol version are set, the
// header is written to the socket after SOCKS5 negotiation (i.e. toward
// the backend, not the relay).
func Dial(ctx context.Context, opts Options) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var conn net.Conn
	var err error
	if opts.Proxy != "" {
		ep, perr := socks5.Parse(opts.Proxy)
		if perr != nil {
			return nil, perr
		}
		conn, err = socks5.Dial(ctx, ep, opts.RemoteHost, opts.RemotePort)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", opts.RemoteHost, opts.RemotePort))
	}
	if err != nil {
		return nil, fmt.Errorf("dial: backend unavailable: %w", err)
	}

	if opts.ProxyProtocolVersion == 1 || opts.ProxyProtocolVersion == 2 {
		if err := proxyproto.WriteOutbound(conn, opts.ProxyProtocolVersion, opts.ClientAddr, conn.RemoteAddr()); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("dial: writing outbound PROXY header: %w", err)
		}
	}

	return &Result{Conn: conn, RemotePort: opts.RemotePort}, nil
}
