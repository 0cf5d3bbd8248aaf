package registry

import (
	"context"
	"net"
	"time"

	"github.com/mcgate/gate/pkg/ratelimit"
	"go.uber.org/atomic"
)

// Connection is the process-wide record of an accepted connection
// (spec.md §3).
type Connection struct {
	ID              uint64
	ClientAddr      net.Addr
	Protocol        int32
	RequestedHost   string
	RequestedPort   uint16
	Username        string
	AcceptedAt      time.Time
	Limiter         *ratelimit.ConnectionLimiter
	BytesSent       atomic.Uint64
	BytesRecv       atomic.Uint64

	cancel context.CancelFunc
}

// NewConnection builds a Connection bound to a freshly derived, cancellable
// context. The returned context is suspended by any I/O or token wait the
// connection's pipeline performs; cancelling it (via Kick, or an ancestor
// context such as engine shutdown) aborts those with "cancelled" (spec.md
// §5).
func NewConnection(parent context.Context, id uint64, addr net.Addr, limiter *ratelimit.ConnectionLimiter) (*Connection, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		ID:         id,
		ClientAddr: addr,
		AcceptedAt: time.Now(),
		Limiter:    limiter,
		cancel:     cancel,
	}, ctx
}

// Kick cancels the connection's context, aborting any suspended I/O or
// token wait with "cancelled" (spec.md §5).
func (c *Connection) Kick() {
	if c.cancel != nil {
		c.cancel()
	}
}
