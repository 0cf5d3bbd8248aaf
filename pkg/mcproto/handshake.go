package mcproto

import (
	"bufio"
	"errors"
)

// NextState mirrors the handshake packet's next_state field.
type NextState int32

const (
	NextStatus NextState = 1
	NextLogin  NextState = 2
)

// ErrUnknownNextState is a framing error: the client requested a next_state
// other than 1 (status) or 2 (login).
var ErrUnknownNextState = errors.New("mcproto: unknown next_state in handshake")

// ErrWrongPacketID is a framing error: the packet id didn't match what the
// current protocol state expects.
var ErrWrongPacketID = errors.New("mcproto: unexpected packet id")

// Handshake is the first packet a client sends.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       NextState
}

// DecodeHandshake parses a Handshake from an already-read packet. id must be 0.
func DecodeHandshake(pkt *Packet) (*Handshake, error) {
	if pkt.ID != 0 {
		return nil, ErrWrongPacketID
	}
	r := bufio.NewReader(&byteSliceReader{b: pkt.Body()})
	pv, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	addr, err := ReadString(r, MaxHostLen)
	if err != nil {
		return nil, err
	}
	portHi, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	portLo, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	port := uint16(portHi)<<8 | uint16(portLo)
	ns, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if ns != int32(NextStatus) && ns != int32(NextLogin) {
		return nil, ErrUnknownNextState
	}
	return &Handshake{
		ProtocolVersion: pv,
		ServerAddress:   addr,
		ServerPort:      port,
		NextState:       NextState(ns),
	}, nil
}

// Encode serializes the handshake back into a packet payload (id 0x00).
func (h *Handshake) Encode() []byte {
	buf := WriteVarInt(nil, 0)
	buf = WriteVarInt(buf, h.ProtocolVersion)
	buf = WriteString(buf, h.ServerAddress)
	buf = append(buf, byte(h.ServerPort>>8), byte(h.ServerPort))
	buf = WriteVarInt(buf, int32(h.NextState))
	return buf
}
