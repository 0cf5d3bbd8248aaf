//go:build !linux

package engine

import (
	"context"
	"net"

	"github.com/mcgate/gate/pkg/registry"
)

// trySplice has no fast path on non-Linux hosts; the caller always falls
// back to the metered path.
func trySplice(ctx context.Context, reg *registry.Registry, conn *registry.Connection, client, backend *net.TCPConn) bool {
	return false
}
