package engine

import (
	"context"
	"errors"
	"net"

	"github.com/mcgate/gate/pkg/registry"
)

// acceptLoop runs one listener's accept loop, spawning a connection task
// per accepted socket (spec.md §5: "one task per listener accept loop, one
// task per connection"). It returns once ctx is cancelled or the listener
// socket is closed.
func (e *Engine) acceptLoop(ctx context.Context, l *registry.Listener) {
	// Closing the socket on cancellation unblocks a pending Accept.
	stopClose := context.AfterFunc(ctx, func() { _ = l.Net.Close() })
	defer stopClose()
	for {
		conn, err := l.Net.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			e.log.Warnw("accept error", "listener", l.ID, "err", err)
			continue
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.log.Errorw("recovered panic in connection task", "listener", l.ID, "panic", r)
				}
			}()
			// Connections outlive their listener's accept loop (spec.md
			// §5: stopping a listener cancels only that loop), so they are
			// rooted in the engine's context, not the listener's.
			e.handleConnection(e.ctx, l, conn)
		}()
	}
}
