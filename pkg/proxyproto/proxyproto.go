// Package proxyproto adapts github.com/pires/go-proxyproto to the inbound
// per-listener modes and outbound emission spec.md §4.2 describes.
package proxyproto

import (
	"bufio"
	"errors"
	"net"

	goproxyproto "github.com/pires/go-proxyproto"
)

// Mode selects inbound PROXY Protocol handling for a listener.
type Mode int

const (
	ModeNone Mode = iota
	ModeOptional
	ModeStrict
)

// ErrHeaderRequired is a framing error: strict mode requires a header that
// wasn't present.
var ErrHeaderRequired = errors.New("proxyproto: header required in strict mode")

// ErrUnexpectedHeader is a framing error: none mode saw what looks like a
// PROXY Protocol signature.
var ErrUnexpectedHeader = errors.New("proxyproto: unexpected header in none mode")

var v1Prefix = []byte("PROXY ")
var v2Sig = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

// ReadInbound peeks at the start of r per mode and, if a header is present,
// parses it and returns the client address it names. When no header is
// present (and mode allows that), origAddr is returned unchanged and the
// stream is left intact for the handshake parser.
func ReadInbound(r *bufio.Reader, mode Mode, origAddr net.Addr) (clientAddr net.Addr, err error) {
	signaturePresent, err := peekSignature(r)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeNone:
		if signaturePresent {
			return nil, ErrUnexpectedHeader
		}
		return origAddr, nil
	case ModeStrict:
		if !signaturePresent {
			return nil, ErrHeaderRequired
		}
		return parseHeader(r, origAddr)
	case ModeOptional:
		if !signaturePresent {
			return origAddr, nil
		}
		return parseHeader(r, origAddr)
	default:
		return origAddr, nil
	}
}

// peekSignature looks for either the v1 ASCII prefix or the v2 binary
// signature without consuming bytes from r.
func peekSignature(r *bufio.Reader) (bool, error) {
	peek, err := r.Peek(len(v2Sig))
	if err == nil && bytesEqual(peek, v2Sig) {
		return true, nil
	}
	peek, err2 := r.Peek(len(v1Prefix))
	if err2 == nil && bytesEqual(peek, v1Prefix) {
		return true, nil
	}
	if err != nil && err2 != nil {
		// Not enough buffered bytes to decide either way; treat as absent,
		// the handshake parser will surface a framing error if this was
		// actually garbage.
		return false, nil
	}
	return false, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func parseHeader(r *bufio.Reader, fallback net.Addr) (net.Addr, error) {
	header, err := goproxyproto.Read(r)
	if err != nil {
		return nil, err
	}
	if header == nil || header.SourceAddr == nil {
		return fallback, nil
	}
	return header.SourceAddr, nil
}

// WriteOutbound emits a PROXY Protocol header of the given version (1 or 2)
// to w, describing a PROXY (not LOCAL) connection from src to dst.
func WriteOutbound(w interface{ Write([]byte) (int, error) }, version int, src, dst net.Addr) error {
	transport := goproxyproto.TCPv4
	if isIPv6(src) {
		transport = goproxyproto.TCPv6
	}
	header := goproxyproto.Header{
		Version:           byte(version),
		Command:           goproxyproto.PROXY,
		TransportProtocol: transport,
		SourceAddr:        src,
		DestinationAddr:   dst,
	}
	_, err := header.WriteTo(w)
	return err
}

func isIPv6(addr net.Addr) bool {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok || tcpAddr.IP == nil {
		return false
	}
	return tcpAddr.IP.To4() == nil
}
