package mcproto

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// EncodeLoginDisconnect builds packet id 0x00 for the login state, wrapping
// a plain-text reason as {"text": "<reason>"} unless it already looks like a
// JSON chat component (starts with '{'). Reason text is normalized to NFC
// before being embedded, guarding against malformed combining sequences
// arriving from the policy layer.
func EncodeLoginDisconnect(reason string) []byte {
	reason = norm.NFC.String(reason)
	var body string
	if strings.HasPrefix(strings.TrimSpace(reason), "{") {
		body = reason
	} else {
		body = jsonTextComponent(reason)
	}
	buf := WriteVarInt(nil, 0)
	buf = WriteString(buf, body)
	return buf
}

// jsonTextComponent builds a minimal {"text": "..."} chat component,
// manually escaping so this package never depends on encoding/json just for
// one string field.
func jsonTextComponent(text string) string {
	var b strings.Builder
	b.WriteString(`{"text":"`)
	for _, r := range text {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(`"}`)
	return b.String()
}

// EncodeStatusResponse builds packet id 0x00 for the status state, carrying
// statusJSON verbatim as the status response body.
func EncodeStatusResponse(statusJSON string) []byte {
	buf := WriteVarInt(nil, 0)
	buf = WriteString(buf, statusJSON)
	return buf
}

// EncodePong builds packet id 0x01 for the status state, echoing the 8-byte
// payload from the client's Ping packet verbatim.
func EncodePong(payload [8]byte) []byte {
	buf := WriteVarInt(nil, 1)
	buf = append(buf, payload[:]...)
	return buf
}

// DecodePingPayload extracts the 8-byte payload from a status-state Ping
// packet (id 0x01).
func DecodePingPayload(pkt *Packet) (payload [8]byte, err error) {
	if pkt.ID != 1 {
		return payload, ErrWrongPacketID
	}
	body := pkt.Body()
	if len(body) != 8 {
		return payload, ErrWrongPacketID
	}
	copy(payload[:], body)
	return payload, nil
}
