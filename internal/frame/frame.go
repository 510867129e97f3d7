// Package frame implements the typed, length-prefixed binary wire unit
// that every dmq message is built from.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Type identifies the purpose of a frame on the wire.
type Type uint8

const (
	// Ping carries no payload and updates a session's last-received clock
	// without ever appearing inside a Message.
	Ping Type = iota + 1
	// Empty is an interior frame with a zero-length payload.
	Empty
	// EmptyLast terminates a message whose terminal frame carries no
	// payload (including single-frame empty messages).
	EmptyLast
	// More is a non-terminal frame inside a multi-frame message; it must
	// carry a non-empty payload.
	More
	// Last terminates a message and carries a non-empty payload.
	Last
	// Command is a data-bearing frame type for control-plane data. It is
	// not terminal. The rpc package does not emit it: RPC and handshake
	// payloads travel as ordinary Last frames.
	Command
)

func (t Type) String() string {
	switch t {
	case Ping:
		return "Ping"
	case Empty:
		return "Empty"
	case EmptyLast:
		return "EmptyLast"
	case More:
		return "More"
	case Last:
		return "Last"
	case Command:
		return "Command"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// zeroPayload reports whether frames of this type never carry a length
// field or payload bytes on the wire.
func (t Type) zeroPayload() bool {
	return t == Ping || t == Empty || t == EmptyLast
}

func validType(t Type) bool {
	switch t {
	case Ping, Empty, EmptyLast, More, Last, Command:
		return true
	default:
		return false
	}
}

// ErrInvalidFrame is returned for any wire-level violation: an unknown
// type byte, a declared length exceeding MaxFrameData, or a zero-length
// More/Last frame (use Empty/EmptyLast instead).
var ErrInvalidFrame = errors.New("frame: invalid frame")

// Frame is the smallest typed unit on the wire.
type Frame struct {
	Type Type
	Data []byte
}

// HeaderLen returns the number of header bytes this frame occupies on the
// wire: 1 for zero-payload types, 3 (type + u16 length) otherwise.
func (f *Frame) HeaderLen() int {
	if f.Type.zeroPayload() {
		return 1
	}
	return 3
}

// Size returns the total wire size of the frame, header included.
func (f *Frame) Size() int {
	return f.HeaderLen() + len(f.Data)
}

// Validate checks a frame against the wire invariants without touching
// I/O: known type, length within maxFrameData, and no zero-length
// More/Last.
func Validate(f *Frame, maxFrameData int) error {
	if !validType(f.Type) {
		return fmt.Errorf("%w: unknown type %d", ErrInvalidFrame, f.Type)
	}
	if f.Type.zeroPayload() {
		if len(f.Data) != 0 {
			return fmt.Errorf("%w: type %s must carry no payload", ErrInvalidFrame, f.Type)
		}
		return nil
	}
	if len(f.Data) > maxFrameData {
		return fmt.Errorf("%w: data length %d exceeds max %d", ErrInvalidFrame, len(f.Data), maxFrameData)
	}
	if len(f.Data) == 0 && (f.Type == More || f.Type == Last) {
		return fmt.Errorf("%w: zero-length %s; use Empty/EmptyLast", ErrInvalidFrame, f.Type)
	}
	return nil
}

// IsTerminal reports whether this frame type ends a Message.
func (f *Frame) IsTerminal() bool {
	return f.Type == Last || f.Type == EmptyLast
}

// Encode appends the wire representation of f to dst and returns the
// extended slice. maxFrameData is used only for validation.
func Encode(dst []byte, f *Frame, maxFrameData int) ([]byte, error) {
	if err := Validate(f, maxFrameData); err != nil {
		return dst, err
	}
	dst = append(dst, byte(f.Type))
	if f.Type.zeroPayload() {
		return dst, nil
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(f.Data)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, f.Data...)
	return dst, nil
}

// DecodeFrom reads exactly one frame from r. Unlike the resumable
// Builder, this blocks on r until a full frame (or a definitive error)
// is available; an EOF encountered mid-frame surfaces as
// io.ErrUnexpectedEOF rather than ErrInvalidFrame, since the caller may
// simply need to wait for more bytes on a live stream.
func DecodeFrom(r io.Reader, maxFrameData int) (*Frame, error) {
	var typeByte [1]byte
	if _, err := io.ReadFull(r, typeByte[:]); err != nil {
		return nil, err
	}
	t := Type(typeByte[0])
	if !validType(t) {
		return nil, fmt.Errorf("%w: unknown type %d", ErrInvalidFrame, typeByte[0])
	}
	if t.zeroPayload() {
		return &Frame{Type: t}, nil
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	if int(n) > maxFrameData {
		return nil, fmt.Errorf("%w: data length %d exceeds max %d", ErrInvalidFrame, n, maxFrameData)
	}
	if n == 0 && (t == More || t == Last) {
		return nil, fmt.Errorf("%w: zero-length %s; use Empty/EmptyLast", ErrInvalidFrame, t)
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
	}
	return &Frame{Type: t, Data: data}, nil
}
