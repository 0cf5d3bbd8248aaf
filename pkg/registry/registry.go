// Package registry implements the process-wide state tables of spec.md
// §4.7: listeners, connections, pending decisions, and the three FIFO
// event queues, plus the global counters of §3's GlobalCounters.
package registry

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/mcgate/gate/pkg/cache"
	"github.com/mcgate/gate/pkg/policy"
	"github.com/mcgate/gate/pkg/ratelimit"
	"go.uber.org/atomic"
)

// Counters is the §3 GlobalCounters, mutated atomically throughout a
// connection's lifetime.
type Counters struct {
	TotalAccepted   atomic.Uint64
	TotalBytesSent  atomic.Uint64
	TotalBytesRecv  atomic.Uint64
}

// Registry is the single process-wide shared-state owner. All fields are
// safe for concurrent use.
type Registry struct {
	listenerIDs idCounter
	connIDs     idCounter

	mu        sync.RWMutex
	listeners map[uint64]*Listener
	conns     map[uint64]*Connection

	pendingMu    sync.Mutex
	pendingRoute map[uint64]chan *policy.RouteDecision
	pendingMotd  map[uint64]chan *policy.MotdDecision

	queueMu  sync.Mutex
	routeQ   deque.Deque[policy.RouteRequest]
	motdQ    deque.Deque[policy.MotdRequest]
	disconnQ deque.Deque[policy.DisconnectionEvent]

	globalLimitMu sync.RWMutex
	globalLimit   *ratelimit.Limits

	Cache    *cache.Cache
	Counters Counters
}

// New builds an empty Registry backed by cache c.
func New(c *cache.Cache) *Registry {
	return &Registry{
		listeners:    make(map[uint64]*Listener),
		conns:        make(map[uint64]*Connection),
		pendingRoute: make(map[uint64]chan *policy.RouteDecision),
		pendingMotd:  make(map[uint64]chan *policy.MotdDecision),
		Cache:        c,
	}
}

// --- Listeners ---

// NewListenerID mints a fresh listener id.
func (r *Registry) NewListenerID() uint64 { return r.listenerIDs.next_() }

func (r *Registry) RegisterListener(l *Listener) {
	r.mu.Lock()
	r.listeners[l.ID] = l
	r.mu.Unlock()
}

func (r *Registry) UnregisterListener(id uint64) {
	r.mu.Lock()
	delete(r.listeners, id)
	r.mu.Unlock()
}

func (r *Registry) GetListener(id uint64) (*Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listeners[id]
	return l, ok
}

func (r *Registry) Listeners() []*Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, l)
	}
	return out
}

// --- Connections ---

func (r *Registry) NewConnID() uint64 { return r.connIDs.next_() }

// RegisterConnection inserts c and bumps TotalAccepted. Active count is
// exactly len(conns), satisfying spec.md §3 invariant 3.
func (r *Registry) RegisterConnection(c *Connection) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	r.Counters.TotalAccepted.Inc()
}

// UnregisterConnection removes a connection, returning false if it was
// already absent (idempotent per spec.md §3 invariant 1: exactly one
// DisconnectionEvent removes it from the registry).
func (r *Registry) UnregisterConnection(id uint64) bool {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	return ok
}

func (r *Registry) GetConnection(id uint64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// ActiveCount returns the live registry size, spec.md §3 invariant 3.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ActiveCountExcluding returns ActiveCount() minus 1 if id is currently
// registered, used to build the MOTD "online" auto value excluding the
// requesting status connection (spec.md §6).
func (r *Registry) ActiveCountExcluding(id uint64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.conns)
	if _, ok := r.conns[id]; ok {
		n--
	}
	return n
}

func (r *Registry) KickAll() int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.Kick()
	}
	return len(conns)
}

// AddBytesSent/AddBytesRecv update both the per-connection and global
// counters atomically, preserving spec.md §3 invariant 4.
func (r *Registry) AddBytesSent(c *Connection, n uint64) {
	c.BytesSent.Add(n)
	r.Counters.TotalBytesSent.Add(n)
}

func (r *Registry) AddBytesRecv(c *Connection, n uint64) {
	c.BytesRecv.Add(n)
	r.Counters.TotalBytesRecv.Add(n)
}

// --- Global rate limit ---

func (r *Registry) SetGlobalRateLimit(l *ratelimit.Limits) {
	r.globalLimitMu.Lock()
	r.globalLimit = l
	r.globalLimitMu.Unlock()
	if l == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		c.Limiter.ApplyGlobalDefault(*l)
	}
}

func (r *Registry) GlobalRateLimit() *ratelimit.Limits {
	r.globalLimitMu.RLock()
	defer r.globalLimitMu.RUnlock()
	return r.globalLimit
}

// --- Pending decisions & event queues ---

// EmitRouteRequest pushes req onto the route queue and registers a
// one-shot channel that SubmitRouteDecision (or a timeout) will complete.
func (r *Registry) EmitRouteRequest(req policy.RouteRequest) chan *policy.RouteDecision {
	ch := make(chan *policy.RouteDecision, 1)
	r.pendingMu.Lock()
	r.pendingRoute[req.ConnID] = ch
	r.pendingMu.Unlock()

	r.queueMu.Lock()
	r.routeQ.PushBack(req)
	r.queueMu.Unlock()
	return ch
}

func (r *Registry) EmitMotdRequest(req policy.MotdRequest) chan *policy.MotdDecision {
	ch := make(chan *policy.MotdDecision, 1)
	r.pendingMu.Lock()
	r.pendingMotd[req.ConnID] = ch
	r.pendingMu.Unlock()

	r.queueMu.Lock()
	r.motdQ.PushBack(req)
	r.queueMu.Unlock()
	return ch
}

// SubmitRouteDecision completes the pending request for connID, if any.
// Per spec.md §6, a submission for an id no longer pending is silently
// ignored; the second of two submissions for the same id is a non-fatal
// no-op.
func (r *Registry) SubmitRouteDecision(connID uint64, d *policy.RouteDecision) bool {
	r.pendingMu.Lock()
	ch, ok := r.pendingRoute[connID]
	if ok {
		delete(r.pendingRoute, connID)
	}
	r.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- d
	return true
}

func (r *Registry) SubmitMotdDecision(connID uint64, d *policy.MotdDecision) bool {
	r.pendingMu.Lock()
	ch, ok := r.pendingMotd[connID]
	if ok {
		delete(r.pendingMotd, connID)
	}
	r.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- d
	return true
}

// abandonRoute/abandonMotd remove a still-pending entry without completing
// it, used when a connection is cancelled or times out internally.
func (r *Registry) abandonRoute(connID uint64) {
	r.pendingMu.Lock()
	delete(r.pendingRoute, connID)
	r.pendingMu.Unlock()
}

func (r *Registry) abandonMotd(connID uint64) {
	r.pendingMu.Lock()
	delete(r.pendingMotd, connID)
	r.pendingMu.Unlock()
}

// EmitDisconnection pushes a DisconnectionEvent and abandons any pending
// decision channel that the policy layer never completed (spec.md §5: "the
// engine will simply ignore any late submission for an id no longer
// pending").
func (r *Registry) EmitDisconnection(connID uint64) {
	r.abandonRoute(connID)
	r.abandonMotd(connID)
	r.queueMu.Lock()
	r.disconnQ.PushBack(policy.DisconnectionEvent{ConnID: connID})
	r.queueMu.Unlock()
}

// PollRouteRequests drains and returns all currently queued RouteRequests.
// Empty (never nil) when nothing is pending, per spec.md §6.
func (r *Registry) PollRouteRequests() []policy.RouteRequest {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	out := make([]policy.RouteRequest, 0, r.routeQ.Len())
	for r.routeQ.Len() > 0 {
		out = append(out, r.routeQ.PopFront())
	}
	return out
}

func (r *Registry) PollMotdRequests() []policy.MotdRequest {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	out := make([]policy.MotdRequest, 0, r.motdQ.Len())
	for r.motdQ.Len() > 0 {
		out = append(out, r.motdQ.PopFront())
	}
	return out
}

func (r *Registry) PollDisconnectionEvents() []policy.DisconnectionEvent {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	out := make([]policy.DisconnectionEvent, 0, r.disconnQ.Len())
	for r.disconnQ.Len() > 0 {
		out = append(out, r.disconnQ.PopFront())
	}
	return out
}

// --- Metrics snapshot ---

// ConnMetrics is one connection's {bytes_sent, bytes_recv} pair.
type ConnMetrics struct {
	BytesSent uint64
	BytesRecv uint64
}

// MetricsSnapshot is the §6 get-metrics JSON shape in typed form.
type MetricsSnapshot struct {
	TotalConn      uint64
	ActiveConn     int
	TotalBytesSent uint64
	TotalBytesRecv uint64
	Connections    map[uint64]ConnMetrics
}

func (r *Registry) Metrics() MetricsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make(map[uint64]ConnMetrics, len(r.conns))
	for id, c := range r.conns {
		conns[id] = ConnMetrics{BytesSent: c.BytesSent.Load(), BytesRecv: c.BytesRecv.Load()}
	}
	return MetricsSnapshot{
		TotalConn:      r.Counters.TotalAccepted.Load(),
		ActiveConn:     len(r.conns),
		TotalBytesSent: r.Counters.TotalBytesSent.Load(),
		TotalBytesRecv: r.Counters.TotalBytesRecv.Load(),
		Connections:    conns,
	}
}

func (r *Registry) ConnectionMetrics(id uint64) (ConnMetrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return ConnMetrics{}, false
	}
	return ConnMetrics{BytesSent: c.BytesSent.Load(), BytesRecv: c.BytesRecv.Load()}, true
}

// CacheTTLFromDirective converts a policy.CacheDirective's millisecond TTL
// into a time.Duration, used by callers storing cache entries.
func CacheTTLFromDirective(ttlMillis int64) time.Duration {
	return time.Duration(ttlMillis) * time.Millisecond
}
