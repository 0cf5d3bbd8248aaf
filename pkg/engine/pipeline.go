package engine

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/mcgate/gate/pkg/cache"
	"github.com/mcgate/gate/pkg/dial"
	"github.com/mcgate/gate/pkg/favicon"
	"github.com/mcgate/gate/pkg/mcproto"
	"github.com/mcgate/gate/pkg/policy"
	"github.com/mcgate/gate/pkg/proxyproto"
	"github.com/mcgate/gate/pkg/ratelimit"
	"github.com/mcgate/gate/pkg/registry"
)

// handleConnection runs the full per-connection state machine of spec.md
// §4.5 from ACCEPT through CLOSE. Any panic here is caught by the caller
// (engine.acceptLoop); errors are handled entirely inside this function,
// never propagated, per spec.md §4.7's "runtime panics inside a single
// connection task must not terminate other connections."
func (e *Engine) handleConnection(parent context.Context, l *registry.Listener, raw net.Conn) {
	connID := e.reg.NewConnID()
	limiter := ratelimit.NewConnectionLimiter(e.reg.GlobalRateLimit())
	conn, ctx := registry.NewConnection(parent, connID, raw.RemoteAddr(), limiter)
	e.reg.RegisterConnection(conn)

	defer func() {
		_ = raw.Close()
		e.reg.UnregisterConnection(connID)
		e.reg.EmitDisconnection(connID)
	}()

	br := bufio.NewReader(raw)

	clientAddr, err := proxyproto.ReadInbound(br, l.ProxyMode, raw.RemoteAddr())
	if err != nil {
		e.log.Debugw("proxy protocol framing error", "conn", connID, "err", err)
		return
	}
	conn.ClientAddr = clientAddr

	pkt, err := mcproto.ReadPacket(br)
	if err != nil {
		e.log.Debugw("handshake read error", "conn", connID, "err", err)
		return
	}
	hs, err := mcproto.DecodeHandshake(pkt)
	if err != nil {
		e.log.Debugw("handshake decode error", "conn", connID, "err", err)
		return
	}
	conn.Protocol = hs.ProtocolVersion
	conn.RequestedHost = hs.ServerAddress
	conn.RequestedPort = hs.ServerPort

	switch hs.NextState {
	case mcproto.NextStatus:
		e.handleStatus(ctx, conn, raw, br, hs)
	case mcproto.NextLogin:
		e.handleLogin(ctx, conn, raw, br, hs)
	}
}

func peerIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// handleStatus implements the STATUS branch: read status-request, consult
// cache/policy for a MotdDecision, write status-response, then optionally
// answer one ping/pong before closing.
func (e *Engine) handleStatus(ctx context.Context, conn *registry.Connection, raw net.Conn, br *bufio.Reader, hs *mcproto.Handshake) {
	if _, err := mcproto.ReadPacket(br); err != nil { // status-request, empty body
		e.log.Debugw("status request read error", "conn", conn.ID, "err", err)
		return
	}

	ip := peerIP(conn.ClientAddr)
	var motd *policy.MotdDecision
	if entry, ok := e.reg.Cache.Lookup(cache.KindMotd, ip, hs.ServerAddress); ok {
		motd = motdFromCacheEntry(entry)
	} else {
		req := policy.MotdRequest{ConnID: conn.ID, PeerIP: ip, Port: hs.ServerPort, Protocol: hs.ProtocolVersion, Host: hs.ServerAddress}
		ch := e.reg.EmitMotdRequest(req)
		motd = e.awaitMotdDecision(ctx, conn.ID, ch)
		if d := motd; d != nil && d.Cache != nil {
			e.storeMotdCache(ip, hs.ServerAddress, d)
		}
	}

	if motd == nil || motd.IsReject() {
		// spec.md §7: "status path has no in-band reject frame" — close silently.
		return
	}

	faviconOut, err := favicon.Process(motd.Status.Favicon, e.opts.FaviconMaxBytes)
	if err != nil {
		e.log.Debugw("favicon processing error", "conn", conn.ID, "err", err)
		faviconOut = ""
	}
	statusJSON, err := policy.BuildStatusJSON(motd.Status, hs.ProtocolVersion, e.reg.ActiveCountExcluding(conn.ID), faviconOut)
	if err != nil {
		e.log.Warnw("status json build error", "conn", conn.ID, "err", err)
		return
	}
	if err := mcproto.WritePacket(raw, mcproto.EncodeStatusResponse(statusJSON)); err != nil {
		return
	}

	pingPkt, err := mcproto.ReadPacket(br)
	if err != nil {
		return // client closed before pinging; not an error
	}
	payload, err := mcproto.DecodePingPayload(pingPkt)
	if err != nil {
		return
	}
	_ = mcproto.WritePacket(raw, mcproto.EncodePong(payload))
}

// handleLogin implements the LOGIN branch: read login-start, consult
// cache/policy for a RouteDecision, dial the backend, replay the handshake
// (port set to the backend port, host optionally rewritten) and the
// login-start packet verbatim, then forward bidirectionally.
func (e *Engine) handleLogin(ctx context.Context, conn *registry.Connection, raw net.Conn, br *bufio.Reader, hs *mcproto.Handshake) {
	loginPkt, err := mcproto.ReadPacket(br)
	if err != nil {
		e.log.Debugw("login-start read error", "conn", conn.ID, "err", err)
		return
	}
	username, err := mcproto.DecodeLoginStartUsername(loginPkt)
	if err != nil {
		_ = mcproto.WritePacket(raw, mcproto.EncodeLoginDisconnect("protocol violation"))
		return
	}
	conn.Username = username

	ip := peerIP(conn.ClientAddr)
	var route *policy.RouteDecision
	if entry, ok := e.reg.Cache.Lookup(cache.KindRoute, ip, hs.ServerAddress); ok {
		route = routeFromCacheEntry(entry)
	} else {
		req := policy.RouteRequest{ConnID: conn.ID, PeerIP: ip, Port: hs.ServerPort, Protocol: hs.ProtocolVersion, Host: hs.ServerAddress, Username: username}
		ch := e.reg.EmitRouteRequest(req)
		route = e.awaitRouteDecision(ctx, conn.ID, ch)
		if d := route; d != nil && d.Cache != nil {
			e.storeRouteCache(ip, hs.ServerAddress, d)
		}
	}

	if route == nil || route.IsReject() {
		reason := "router timeout"
		if route != nil {
			reason = route.Disconnect
		}
		_ = mcproto.WritePacket(raw, mcproto.EncodeLoginDisconnect(reason))
		return
	}

	dialed, err := dial.Dial(ctx, dial.Options{
		RemoteHost:           route.Forward.RemoteHost,
		RemotePort:           route.Forward.RemotePort,
		Proxy:                route.Forward.Proxy,
		ProxyProtocolVersion: route.Forward.ProxyProtocol,
		ClientAddr:           conn.ClientAddr,
		Timeout:              e.opts.DialTimeout,
	})
	if err != nil {
		e.log.Debugw("backend dial failed", "conn", conn.ID, "err", err)
		_ = mcproto.WritePacket(raw, mcproto.EncodeLoginDisconnect("backend unavailable"))
		return
	}
	defer func() { _ = dialed.Conn.Close() }()

	replay := mcproto.Handshake{
		ProtocolVersion: hs.ProtocolVersion,
		ServerAddress:   hs.ServerAddress,
		ServerPort:      dialed.RemotePort,
		NextState:       mcproto.NextLogin,
	}
	if route.Forward.RewriteHost != "" {
		replay.ServerAddress = route.Forward.RewriteHost
	}
	if err := mcproto.WritePacket(dialed.Conn, replay.Encode()); err != nil {
		return
	}
	if err := mcproto.WritePacket(dialed.Conn, loginPkt.Payload); err != nil {
		return
	}

	forward(ctx, e.reg, conn, raw, br, dialed.Conn)
}

func (e *Engine) awaitRouteDecision(ctx context.Context, connID uint64, ch chan *policy.RouteDecision) *policy.RouteDecision {
	timer := time.NewTimer(e.opts.DecisionTimeout)
	defer timer.Stop()
	select {
	case d := <-ch:
		return d
	case <-timer.C:
		return &policy.RouteDecision{Disconnect: "router timeout"}
	case <-ctx.Done():
		return &policy.RouteDecision{Disconnect: "cancelled"}
	}
}

func (e *Engine) awaitMotdDecision(ctx context.Context, connID uint64, ch chan *policy.MotdDecision) *policy.MotdDecision {
	timer := time.NewTimer(e.opts.DecisionTimeout)
	defer timer.Stop()
	select {
	case d := <-ch:
		return d
	case <-timer.C:
		return &policy.MotdDecision{Disconnect: "router timeout"}
	case <-ctx.Done():
		return &policy.MotdDecision{Disconnect: "cancelled"}
	}
}

func (e *Engine) storeRouteCache(ip, host string, d *policy.RouteDecision) {
	ttl := registry.CacheTTLFromDirective(d.Cache.TTLMillis)
	gran := cache.GranularityIP
	if d.Cache.Granularity == string(cache.GranularityIPHost) {
		gran = cache.GranularityIPHost
	}
	e.reg.Cache.Store(cache.KindRoute, gran, ip, host, ttl, cache.Entry{
		Reject:       d.Cache.Reject,
		RejectReason: d.Cache.RejectReason,
		Payload:      d.Forward,
	})
}

func (e *Engine) storeMotdCache(ip, host string, d *policy.MotdDecision) {
	ttl := registry.CacheTTLFromDirective(d.Cache.TTLMillis)
	gran := cache.GranularityIP
	if d.Cache.Granularity == string(cache.GranularityIPHost) {
		gran = cache.GranularityIPHost
	}
	e.reg.Cache.Store(cache.KindMotd, gran, ip, host, ttl, cache.Entry{
		Reject:       d.Cache.Reject,
		RejectReason: d.Cache.RejectReason,
		Payload:      d.Status,
	})
}

func routeFromCacheEntry(e cache.Entry) *policy.RouteDecision {
	if e.Reject {
		return &policy.RouteDecision{Disconnect: e.RejectReason}
	}
	forward, _ := e.Payload.(*policy.RouteForward)
	return &policy.RouteDecision{Forward: forward}
}

func motdFromCacheEntry(e cache.Entry) *policy.MotdDecision {
	if e.Reject {
		return &policy.MotdDecision{Disconnect: e.RejectReason}
	}
	status, _ := e.Payload.(*policy.MotdStatus)
	return &policy.MotdDecision{Status: status}
}
