//go:build linux

package engine

import (
	"context"
	"net"

	"github.com/mcgate/gate/pkg/registry"
	"golang.org/x/sys/unix"
)

// spliceChunk caps a single splice() call, matching the metered path's
// 4096-byte accounting granularity (spec.md §4.6: "bounding each splice
// chunk to 4096 bytes").
const spliceChunk = 4096

// trySplice runs a bidirectional zero-copy forward using the Linux
// splice(2) syscall through an intermediate pipe, one direction per
// goroutine. It returns false only if duplicating either socket's file
// descriptor fails, in which case the caller falls back to the metered path.
// If creating a direction's pipe fails, that direction ends without copying
// and its peer is write-shut; there is no fallback for it.
func trySplice(ctx context.Context, reg *registry.Registry, conn *registry.Connection, client, backend *net.TCPConn) bool {
	clientFile, err := client.File()
	if err != nil {
		return false
	}
	defer clientFile.Close()
	backendFile, err := backend.File()
	if err != nil {
		return false
	}
	defer backendFile.Close()

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		spliceLoop(ctx, int(clientFile.Fd()), int(backendFile.Fd()), func(n uint64) { reg.AddBytesSent(conn, n) })
		_ = backend.CloseWrite()
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		spliceLoop(ctx, int(backendFile.Fd()), int(clientFile.Fd()), func(n uint64) { reg.AddBytesRecv(conn, n) })
		_ = client.CloseWrite()
	}()
	<-done
	<-done
	return true
}

// spliceLoop pumps bytes from srcFd to dstFd through a pipe until EOF or
// error, accounting each successful splice.
func spliceLoop(ctx context.Context, srcFd, dstFd int, account func(uint64)) {
	// client.File()/backend.File() duplicate the socket fd in blocking mode,
	// so the pipe is left blocking too; splice() then blocks like a normal
	// read/write pair instead of spinning on EAGAIN.
	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, 0); err != nil {
		return
	}
	defer unix.Close(pipeFds[0])
	defer unix.Close(pipeFds[1])

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := unix.Splice(srcFd, nil, pipeFds[1], nil, spliceChunk, unix.SPLICE_F_MOVE)
		if n == 0 || err != nil {
			return
		}
		remaining := int(n)
		for remaining > 0 {
			w, err := unix.Splice(pipeFds[0], nil, dstFd, nil, remaining, unix.SPLICE_F_MOVE)
			if err != nil {
				return
			}
			remaining -= int(w)
		}
		account(uint64(n))
	}
}
