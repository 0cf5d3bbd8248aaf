package mcproto

import (
	"bufio"
	"errors"
)

// ErrEmptyUsername is a protocol violation: login-start with a zero-length
// username.
var ErrEmptyUsername = errors.New("mcproto: empty username in login-start")

// DecodeLoginStartUsername extracts only the username from a login-start
// packet. The caller is responsible for retaining pkt.Payload verbatim and
// replaying it byte-exact to the backend: later protocol versions append
// extra fields (UUID, signature data) after the username that must not be
// dropped or re-derived.
func DecodeLoginStartUsername(pkt *Packet) (string, error) {
	if pkt.ID != 0 {
		return "", ErrWrongPacketID
	}
	r := bufio.NewReader(&byteSliceReader{b: pkt.Body()})
	username, err := ReadString(r, MaxUsernameLen)
	if err != nil {
		return "", err
	}
	if len(username) == 0 {
		return "", ErrEmptyUsername
	}
	return username, nil
}
