package mcproto

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeAsPacket(payload []byte) *Packet {
	pr := &byteSliceReader{b: payload}
	id, _ := ReadVarInt(pr)
	return &Packet{ID: id, Payload: payload}
}

func TestHandshakeRoundTrip(t *testing.T) {
	h := &Handshake{
		ProtocolVersion: 47,
		ServerAddress:   "mc.example.com",
		ServerPort:      25565,
		NextState:       NextLogin,
	}
	payload := h.Encode()
	got, err := DecodeHandshake(encodeAsPacket(payload))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestHandshakeUnknownNextState(t *testing.T) {
	buf := WriteVarInt(nil, 0)
	buf = WriteVarInt(buf, 47)
	buf = WriteString(buf, "host")
	buf = append(buf, 0x63, 0xDD)
	buf = WriteVarInt(buf, 3) // invalid next_state
	_, err := DecodeHandshake(encodeAsPacket(buf))
	require.ErrorIs(t, err, ErrUnknownNextState)
}

func TestPacketFramingRoundTrip(t *testing.T) {
	h := &Handshake{ProtocolVersion: 47, ServerAddress: "h", ServerPort: 1, NextState: NextStatus}
	var out bytes.Buffer
	require.NoError(t, WritePacket(&out, h.Encode()))

	r := bufio.NewReader(&out)
	pkt, err := ReadPacket(r)
	require.NoError(t, err)
	got, err := DecodeHandshake(pkt)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestLoginStartRetainsRawBytes(t *testing.T) {
	// username + trailing bytes a future protocol version might add (UUID-like filler).
	buf := WriteVarInt(nil, 0)
	buf = WriteString(buf, "tester")
	buf = append(buf, 0xDE, 0xAD, 0xBE, 0xEF)
	pkt := encodeAsPacket(buf)

	username, err := DecodeLoginStartUsername(pkt)
	require.NoError(t, err)
	require.Equal(t, "tester", username)
	require.Equal(t, buf, pkt.Payload)
}

func TestLoginStartEmptyUsername(t *testing.T) {
	buf := WriteVarInt(nil, 0)
	buf = WriteString(buf, "")
	_, err := DecodeLoginStartUsername(encodeAsPacket(buf))
	require.ErrorIs(t, err, ErrEmptyUsername)
}
