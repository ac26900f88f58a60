// Package frame implements the Companion wire framing: a 4-byte
// big-endian length, a 1-byte frame type, a 1-byte flags byte, and an
// opaque payload, with a streaming decoder that tolerates frames split
// across read() calls.
package frame

import (
	"encoding/binary"
	"fmt"
)

// Type identifies a Companion frame's purpose.
type Type uint8

const (
	PSStart Type = 0x01
	PSNext  Type = 0x02
	PVStart Type = 0x03
	PVNext  Type = 0x04
	Event   Type = 0x06
)

func (t Type) known() bool {
	switch t {
	case PSStart, PSNext, PVStart, PVNext, Event:
		return true
	}
	return false
}

func (t Type) String() string {
	switch t {
	case PSStart:
		return "PS_START"
	case PSNext:
		return "PS_NEXT"
	case PVStart:
		return "PV_START"
	case PVNext:
		return "PV_NEXT"
	case Event:
		return "EVENT"
	default:
		return fmt.Sprintf("Type(0x%02x)", uint8(t))
	}
}

// headerLen is the 4-byte length field; the length it carries counts the
// 1-byte type + 1-byte flags + payload that follow it (not itself).
const headerLen = 4

// Frame is one Companion wire message.
type Frame struct {
	Type    Type
	Flags   uint8
	Payload []byte
}

// UnknownFrameTypeError is returned when a frame's type byte is not one of
// the known Companion frame types.
type UnknownFrameTypeError struct{ Type byte }

func (e *UnknownFrameTypeError) Error() string {
	return fmt.Sprintf("frame: unknown frame type 0x%02x", e.Type)
}

// Encode serializes a Frame to its wire form.
func Encode(f Frame) []byte {
	out := make([]byte, headerLen+2+len(f.Payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(2+len(f.Payload)))
	out[4] = byte(f.Type)
	out[5] = f.Flags
	copy(out[6:], f.Payload)
	return out
}

// DecodeStream extracts every complete frame present at the start of buf,
// returning them in arrival order along with the undecoded residual bytes.
// A length field describing a frame that extends past the end of buf is
// not an error: the bytes belonging to that partial frame are returned
// untouched in leftover so a subsequent call, once more bytes have
// arrived, can pick up where this one left off.
//
// If a fully-buffered frame's type byte is not recognised, decoding stops
// and returns an UnknownFrameTypeError; frames decoded before the bad one
// are still returned, and leftover starts at the bad frame so the caller
// can inspect or discard it.
func DecodeStream(buf []byte) (frames []Frame, leftover []byte, err error) {
	for len(buf) >= headerLen {
		length := binary.BigEndian.Uint32(buf[0:4])
		total := headerLen + int(length)
		if length < 2 || len(buf) < total {
			break
		}
		typeByte := buf[4]
		t := Type(typeByte)
		if !t.known() {
			return frames, buf, &UnknownFrameTypeError{Type: typeByte}
		}
		payload := make([]byte, int(length)-2)
		copy(payload, buf[6:total])
		frames = append(frames, Frame{Type: t, Flags: buf[5], Payload: payload})
		buf = buf[total:]
	}
	return frames, buf, nil
}
