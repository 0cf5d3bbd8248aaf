// Package engine implements the native proxy engine of spec.md §4: listener
// accept loops, the per-connection protocol state machine, backend dial,
// and bidirectional forwarding, all wired against the shared pkg/registry
// state tables.
package engine

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mcgate/gate/pkg/cache"
	"github.com/mcgate/gate/pkg/proxyproto"
	"github.com/mcgate/gate/pkg/ratelimit"
	"github.com/mcgate/gate/pkg/registry"
	"go.uber.org/zap"
)

// Options configures engine-wide behavior that isn't per-listener.
type Options struct {
	// DecisionTimeout bounds how long a connection's pipeline waits for a
	// routing or MOTD decision before synthesizing "router timeout"
	// (spec.md §4.5).
	DecisionTimeout time.Duration
	// DialTimeout bounds backend connection attempts (direct or SOCKS5).
	DialTimeout time.Duration
	// CacheSweepEvery drives the decision cache's background expiry sweep;
	// zero disables the automatic sweep (spec.md §4.3).
	CacheSweepEvery time.Duration
	// FaviconMaxBytes bounds decoded MOTD favicon size (spec.md §9).
	FaviconMaxBytes int
	// GlobalRateLimit, if non-nil, seeds every new connection's buckets
	// (spec.md §4.4).
	GlobalRateLimit *ratelimit.Limits
}

func (o *Options) setDefaults() {
	if o.DecisionTimeout <= 0 {
		o.DecisionTimeout = 30 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.FaviconMaxBytes <= 0 {
		o.FaviconMaxBytes = 256 * 1024
	}
}

// Engine owns every listener and connection task, per spec.md §4.7's
// ownership rule: "the engine exclusively owns all sockets, tasks, buckets,
// and counters."
type Engine struct {
	opts Options
	reg  *registry.Registry
	log  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine. Pass the process's long-lived context; cancelling
// it (or calling Shutdown) tears down every listener and connection.
func New(ctx context.Context, opts Options) *Engine {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		opts:   opts,
		reg:    registry.New(cache.New(opts.CacheSweepEvery)),
		log:    zap.S().Named("engine"),
		ctx:    ctx,
		cancel: cancel,
	}
	if opts.GlobalRateLimit != nil {
		e.reg.SetGlobalRateLimit(opts.GlobalRateLimit)
	}
	return e
}

// Registry exposes the shared state tables for the httpapi boundary server.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// StartListener binds host:port and starts its accept loop, returning the
// minted listener id. A bind failure is the only start-listener failure
// mode (spec.md §4.7).
func (e *Engine) StartListener(host string, port int, mode proxyproto.Mode) (uint64, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return 0, fmt.Errorf("engine: bind %s:%d: %w", host, port, err)
	}
	id := e.reg.NewListenerID()
	l, lctx := registry.NewListener(e.ctx, id, host, port, mode, ln)
	e.reg.RegisterListener(l)

	e.log.Infow("listener started", "id", id, "host", host, "port", port, "proxyMode", mode)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.acceptLoop(lctx, l)
	}()
	return id, nil
}

// StopListener stops the accept loop for id; existing connections on it
// continue uninterrupted (spec.md §5).
func (e *Engine) StopListener(id uint64) error {
	l, ok := e.reg.GetListener(id)
	if !ok {
		return fmt.Errorf("engine: no such listener %d", id)
	}
	l.Stop()
	e.reg.UnregisterListener(id)
	return nil
}

// Shutdown cancels every listener and connection task and waits for them
// to drain (spec.md §5: "each task is responsible for draining its sockets
// and emitting its disconnection event before terminating").
func (e *Engine) Shutdown() {
	e.cancel()
	for _, l := range e.reg.Listeners() {
		l.Stop()
	}
	e.wg.Wait()
}
