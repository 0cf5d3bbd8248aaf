package engine

import (
	"bufio"
	"context"
	"io"
	"net"

	"github.com/mcgate/gate/pkg/ratelimit"
	"github.com/mcgate/gate/pkg/registry"
	"golang.org/x/sync/errgroup"
)

// forward runs the bidirectional copy loop of spec.md §4.6 between the
// client (already partially consumed into br) and the dialed backend. It
// tries the platform fast path first, falling back to the metered path
// whenever the fast path isn't applicable (non-TCP conn, buffered client
// bytes, or an active rate limit).
func forward(ctx context.Context, reg *registry.Registry, conn *registry.Connection, client net.Conn, br *bufio.Reader, backend net.Conn) {
	clientTCP, clientIsTCP := client.(*net.TCPConn)
	backendTCP, backendIsTCP := backend.(*net.TCPConn)

	if br.Buffered() == 0 && clientIsTCP && backendIsTCP && conn.Limiter.Unlimited() {
		if trySplice(ctx, reg, conn, clientTCP, backendTCP) {
			return
		}
	}
	meteredForward(ctx, reg, conn, br, client, backend)
}

// meteredForward is the spec.md §4.6 "metered fallback": read into a
// 4096-byte buffer, acquire tokens, write fully to the peer, account bytes.
// One goroutine per direction via errgroup; either direction's clean EOF
// triggers a write-shutdown of that direction on the peer, and the loop
// exits once both directions have finished. copyMetered never returns an
// error itself (I/O errors just end that direction's copy per spec.md §4.6),
// so g.Wait() always succeeds; errgroup is used here purely for its
// Go-and-Wait fan-out, not for error propagation.
func meteredForward(ctx context.Context, reg *registry.Registry, conn *registry.Connection, clientReader io.Reader, client net.Conn, backend net.Conn) {
	var g errgroup.Group
	g.Go(func() error {
		copyMetered(ctx, backend, clientReader, conn.Limiter.Send, func(n uint64) { reg.AddBytesSent(conn, n) })
		closeWrite(backend)
		return nil
	})
	g.Go(func() error {
		copyMetered(ctx, client, backend, conn.Limiter.Recv, func(n uint64) { reg.AddBytesRecv(conn, n) })
		closeWrite(client)
		return nil
	})
	_ = g.Wait()
}

func copyMetered(ctx context.Context, dst io.Writer, src io.Reader, bucket *ratelimit.Bucket, account func(uint64)) {
	buf := make([]byte, ratelimit.MaxChunk)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := bucket.Acquire(ctx, n); werr != nil {
				return
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
			account(uint64(n))
		}
		if err != nil {
			return
		}
	}
}

// closeWrite half-closes conn for writing if it supports it, otherwise
// closes it outright.
func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		_ = wc.CloseWrite()
		return
	}
	_ = conn.Close()
}
