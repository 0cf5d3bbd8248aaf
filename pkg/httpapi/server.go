// Package httpapi implements the JSON-framed policy boundary of spec.md
// §6 on top of github.com/valyala/fasthttp, a dependency the teacher
// already declares. protobuf/gRPC code generation isn't available in this
// environment (see DESIGN.md), so the boundary is plain JSON-over-HTTP
// instead of the teacher's gRPC-shaped services — every operation §6 lists
// still has exactly one handler below.
package httpapi

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/mcgate/gate/pkg/engine"
	"github.com/mcgate/gate/pkg/metrics"
	"github.com/mcgate/gate/pkg/policy"
	"github.com/mcgate/gate/pkg/proxyproto"
	"github.com/mcgate/gate/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	statusOK            = 0
	statusBadRequest    = 1
	statusNotFound      = 2
	statusInternalError = 3
)

// Server is the fasthttp-backed policy boundary described by spec.md §6.
// It holds no state of its own beyond the default inbound PROXY Protocol
// mode applied to future listeners; everything else is delegated to the
// engine and its registry.
type Server struct {
	eng       *engine.Engine
	promReg   *prometheus.Registry
	srv        *fasthttp.Server
	addr       string
	log        *zap.SugaredLogger
	onShutdown func()
	metricsH   fasthttp.RequestHandler

	mu          sync.Mutex
	defaultMode proxyproto.Mode
}

// New builds a Server bound to addr. onShutdown, if non-nil, is invoked
// after a successful `shutdown` call (used by cmd/gate to stop the process).
func New(eng *engine.Engine, promReg *prometheus.Registry, addr string, onShutdown func()) *Server {
	s := &Server{
		eng:        eng,
		promReg:    promReg,
		addr:       addr,
		log:        zap.S().Named("httpapi"),
		onShutdown: onShutdown,
		metricsH:   metrics.Handler(promReg),
	}
	s.srv = &fasthttp.Server{Handler: s.route}
	return s
}

// ListenAndServe blocks serving the boundary API until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Infow("policy boundary listening", "addr", s.addr)
	return s.srv.ListenAndServe(s.addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/metrics":
		s.metricsH(ctx)
	case "/start-listener":
		s.handleStartListener(ctx)
	case "/stop-listener":
		s.handleStopListener(ctx)
	case "/set-options":
		s.handleSetOptions(ctx)
	case "/set-rate-limit":
		s.handleSetRateLimit(ctx)
	case "/disconnect":
		s.handleDisconnect(ctx)
	case "/kick-all":
		s.handleKickAll(ctx)
	case "/get-metrics":
		s.handleGetMetrics(ctx)
	case "/get-connection-metrics":
		s.handleGetConnectionMetrics(ctx)
	case "/poll-events":
		s.handlePollEvents(ctx)
	case "/submit-routing-decision":
		s.handleSubmitRoutingDecision(ctx)
	case "/submit-motd-decision":
		s.handleSubmitMotdDecision(ctx)
	case "/cleanup-cache":
		s.handleCleanupCache(ctx)
	case "/get-cache-stats":
		s.handleGetCacheStats(ctx)
	case "/shutdown":
		s.handleShutdown(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func badRequest(ctx *fasthttp.RequestCtx, err error) {
	ctx.SetStatusCode(fasthttp.StatusBadRequest)
	writeJSON(ctx, map[string]any{"status": statusBadRequest, "error": err.Error()})
}

// --- Listener control ---

type startListenerReq struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProxyProtocolIn string `json:"proxyProtocolIn,omitempty"`
}

func (s *Server) handleStartListener(ctx *fasthttp.RequestCtx) {
	var req startListenerReq
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		badRequest(ctx, err)
		return
	}
	mode := s.currentDefaultMode()
	if req.ProxyProtocolIn != "" {
		m, err := parseMode(req.ProxyProtocolIn)
		if err != nil {
			badRequest(ctx, err)
			return
		}
		mode = m
	}
	id, err := s.eng.StartListener(req.Host, req.Port, mode)
	if err != nil {
		writeJSON(ctx, map[string]any{"status": statusInternalError, "error": err.Error()})
		return
	}
	writeJSON(ctx, map[string]any{"status": statusOK, "listenerId": id})
}

type stopListenerReq struct {
	ListenerID uint64 `json:"listenerId"`
}

func (s *Server) handleStopListener(ctx *fasthttp.RequestCtx) {
	var req stopListenerReq
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		badRequest(ctx, err)
		return
	}
	if err := s.eng.StopListener(req.ListenerID); err != nil {
		writeJSON(ctx, map[string]any{"status": statusNotFound})
		return
	}
	writeJSON(ctx, map[string]any{"status": statusOK})
}

type setOptionsReq struct {
	ProxyProtocolIn string `json:"proxyProtocolIn"`
}

// handleSetOptions changes the default inbound PROXY Protocol mode applied
// to listeners started after this call; it does not retroactively affect
// already-running listeners.
func (s *Server) handleSetOptions(ctx *fasthttp.RequestCtx) {
	var req setOptionsReq
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		badRequest(ctx, err)
		return
	}
	mode, err := parseMode(req.ProxyProtocolIn)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	s.mu.Lock()
	s.defaultMode = mode
	s.mu.Unlock()
	writeJSON(ctx, map[string]any{"status": statusOK})
}

func (s *Server) currentDefaultMode() proxyproto.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultMode
}

func parseMode(s string) (proxyproto.Mode, error) {
	switch s {
	case "none":
		return proxyproto.ModeNone, nil
	case "optional":
		return proxyproto.ModeOptional, nil
	case "strict":
		return proxyproto.ModeStrict, nil
	default:
		return proxyproto.ModeNone, &invalidModeError{s}
	}
}

type invalidModeError struct{ got string }

func (e *invalidModeError) Error() string { return "httpapi: invalid proxyProtocolIn " + strconv.Quote(e.got) }

// --- Connection control ---

type setRateLimitReq struct {
	ConnectionID uint64 `json:"connectionId"`
	SendAvg      int    `json:"sendAvg"`
	SendBurst    int    `json:"sendBurst"`
	RecvAvg      int    `json:"recvAvg"`
	RecvBurst    int    `json:"recvBurst"`
}

func (s *Server) handleSetRateLimit(ctx *fasthttp.RequestCtx) {
	var req setRateLimitReq
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		badRequest(ctx, err)
		return
	}
	conn, ok := s.eng.Registry().GetConnection(req.ConnectionID)
	if !ok {
		writeJSON(ctx, map[string]any{"status": statusNotFound})
		return
	}
	conn.Limiter.SetRateLimit(ratelimit.Limits{
		SendAvg: req.SendAvg, SendBurst: req.SendBurst,
		RecvAvg: req.RecvAvg, RecvBurst: req.RecvBurst,
	})
	writeJSON(ctx, map[string]any{"status": statusOK})
}

type connectionIDReq struct {
	ConnectionID uint64 `json:"connectionId"`
}

func (s *Server) handleDisconnect(ctx *fasthttp.RequestCtx) {
	var req connectionIDReq
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		badRequest(ctx, err)
		return
	}
	conn, ok := s.eng.Registry().GetConnection(req.ConnectionID)
	if !ok {
		writeJSON(ctx, map[string]any{"status": statusNotFound})
		return
	}
	conn.Kick()
	writeJSON(ctx, map[string]any{"status": statusOK})
}

func (s *Server) handleKickAll(ctx *fasthttp.RequestCtx) {
	n := s.eng.Registry().KickAll()
	writeJSON(ctx, map[string]any{"count": n})
}

// --- Metrics & cache introspection ---

func (s *Server) handleGetMetrics(ctx *fasthttp.RequestCtx) {
	snap := s.eng.Registry().Metrics()
	conns := make(map[string]any, len(snap.Connections))
	for id, m := range snap.Connections {
		conns[strconv.FormatUint(id, 10)] = map[string]uint64{"bytesSent": m.BytesSent, "bytesRecv": m.BytesRecv}
	}
	writeJSON(ctx, map[string]any{
		"totalConn":      snap.TotalConn,
		"activeConn":     snap.ActiveConn,
		"totalBytesSent": snap.TotalBytesSent,
		"totalBytesRecv": snap.TotalBytesRecv,
		"connections":    conns,
	})
}

func (s *Server) handleGetConnectionMetrics(ctx *fasthttp.RequestCtx) {
	idStr := string(ctx.QueryArgs().Peek("connectionId"))
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	m, ok := s.eng.Registry().ConnectionMetrics(id)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, map[string]uint64{"bytesSent": m.BytesSent, "bytesRecv": m.BytesRecv})
}

// --- Event polling & decision submission ---

func (s *Server) handlePollEvents(ctx *fasthttp.RequestCtx) {
	reg := s.eng.Registry()
	writeJSON(ctx, map[string]any{
		"routeRequests":       reg.PollRouteRequests(),
		"motdRequests":        reg.PollMotdRequests(),
		"disconnectionEvents": reg.PollDisconnectionEvents(),
	})
}

type decisionReq struct {
	ConnectionID uint64          `json:"connectionId"`
	Decision     json.RawMessage `json:"decision"`
}

func (s *Server) handleSubmitRoutingDecision(ctx *fasthttp.RequestCtx) {
	var req decisionReq
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		badRequest(ctx, err)
		return
	}
	d, err := policy.ParseRouteDecision(req.Decision)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	s.eng.Registry().SubmitRouteDecision(req.ConnectionID, d)
	writeJSON(ctx, map[string]any{"status": statusOK})
}

func (s *Server) handleSubmitMotdDecision(ctx *fasthttp.RequestCtx) {
	var req decisionReq
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		badRequest(ctx, err)
		return
	}
	d, err := policy.ParseMotdDecision(req.Decision)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	s.eng.Registry().SubmitMotdDecision(req.ConnectionID, d)
	writeJSON(ctx, map[string]any{"status": statusOK})
}

func (s *Server) handleCleanupCache(ctx *fasthttp.RequestCtx) {
	s.eng.Registry().Cache.Sweep()
	writeJSON(ctx, map[string]any{"status": statusOK})
}

func (s *Server) handleGetCacheStats(ctx *fasthttp.RequestCtx) {
	stats := s.eng.Registry().Cache.Snapshot()
	writeJSON(ctx, map[string]int{"totalEntries": stats.TotalEntries, "expiredEntries": stats.ExpiredEntries})
}

func (s *Server) handleShutdown(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{"status": statusOK})
	if s.onShutdown != nil {
		go s.onShutdown()
	}
}
