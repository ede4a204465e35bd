package nexus

import (
	"encoding/binary"
	"fmt"
)

// maxShortPayload is the largest payload expressible with the u16 length
// header used by every packet type except LONG_PLAYBACK_PACKET.
const maxShortPayload = 0xFFFF

// Frame is one decoded wire frame: [type:u8][length][payload]. The length
// header is big-endian u16, widened to u32 for LONG_PLAYBACK_PACKET.
type Frame struct {
	Type    uint8
	Payload []byte
}

// EncodeFrame produces the wire bytes for one frame. Payloads over 64KiB
// are only legal as LONG_PLAYBACK_PACKET.
func EncodeFrame(packetType uint8, payload []byte) ([]byte, error) {
	if packetType == PacketLongPlaybackPacket {
		out := make([]byte, 5+len(payload))
		out[0] = packetType
		binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
		copy(out[5:], payload)
		return out, nil
	}

	if len(payload) > maxShortPayload {
		return nil, fmt.Errorf("payload %d bytes exceeds u16 frame length (type %d)", len(payload), packetType)
	}

	out := make([]byte, 3+len(payload))
	out[0] = packetType
	binary.BigEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[3:], payload)
	return out, nil
}

// FrameReader decodes frames from an append-only byte accumulator. Bytes
// arrive in arbitrary chunks from the socket; Next yields a frame once the
// accumulator holds a complete one.
type FrameReader struct {
	buf []byte
}

// Append adds received bytes to the accumulator
func (r *FrameReader) Append(data []byte) {
	r.buf = append(r.buf, data...)
}

// Buffered returns the number of undecoded bytes held
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}

// Next returns the next complete frame, or ok=false when more bytes are
// needed. The returned payload is a copy; the accumulator advances past the
// consumed frame.
func (r *FrameReader) Next() (Frame, bool) {
	if len(r.buf) < 3 {
		return Frame{}, false
	}

	packetType := r.buf[0]

	var headerLen int
	var payloadLen int
	if packetType == PacketLongPlaybackPacket {
		if len(r.buf) < 5 {
			return Frame{}, false
		}
		headerLen = 5
		payloadLen = int(binary.BigEndian.Uint32(r.buf[1:5]))
	} else {
		headerLen = 3
		payloadLen = int(binary.BigEndian.Uint16(r.buf[1:3]))
	}

	if len(r.buf) < headerLen+payloadLen {
		return Frame{}, false
	}

	payload := make([]byte, payloadLen)
	copy(payload, r.buf[headerLen:headerLen+payloadLen])
	r.buf = r.buf[headerLen+payloadLen:]

	return Frame{Type: packetType, Payload: payload}, true
}

// Reset drops any accumulated bytes. Called on reconnect so a partial frame
// from the old socket never bleeds into the new stream.
func (r *FrameReader) Reset() {
	r.buf = nil
}
