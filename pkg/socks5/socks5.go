// Package socks5 implements the RFC1928 CONNECT client the backend dial
// path needs (spec.md §4.5, restricted by §9 to the NoAuth and
// Username/Password methods). Built on golang.org/x/net/proxy, the natural
// ecosystem extension of the teacher's other golang.org/x/* dependencies
// (x/sync, x/sys, x/text, x/time are all direct teacher requires).
package socks5

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"
)

// Endpoint describes an upstream SOCKS5 relay, parsed from a
// "socks5://host:port[?user:pass]" URL as spec.md §4.5 specifies.
type Endpoint struct {
	Addr     string
	Username string
	Password string
}

// Parse decodes a RouteDecision.proxy string into an Endpoint.
func Parse(raw string) (*Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("socks5: invalid proxy URL: %w", err)
	}
	if u.Scheme != "socks5" {
		return nil, fmt.Errorf("socks5: unsupported scheme %q", u.Scheme)
	}
	ep := &Endpoint{Addr: u.Host}
	if u.RawQuery != "" {
		if user, pass, ok := strings.Cut(u.RawQuery, ":"); ok {
			ep.Username, ep.Password = user, pass
		}
	}
	return ep, nil
}

// Dial establishes a TCP connection to (targetHost, targetPort) through the
// SOCKS5 relay described by ep, using the NoAuth method when ep carries no
// credentials and Username/Password otherwise.
func Dial(ctx context.Context, ep *Endpoint, targetHost string, targetPort uint16) (net.Conn, error) {
	var auth *proxy.Auth
	if ep.Username != "" || ep.Password != "" {
		auth = &proxy.Auth{User: ep.Username, Password: ep.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", ep.Addr, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5: build dialer: %w", err)
	}
	target := net.JoinHostPort(targetHost, fmt.Sprintf("%d", targetPort))
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext(ctx, "tcp", target)
	}
	return dialer.Dial("tcp", target)
}
