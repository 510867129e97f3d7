package frame

import (
	"encoding/binary"
	"fmt"
)

// Builder is a resumable stream parser: bytes fed via Write are turned
// into a queue of complete frames, with partial frames held across calls.
// It is not safe for concurrent use — the Mailbox single-flight guarantee
// (at most one reader per mailbox) is what makes that safe in practice.
type Builder struct {
	maxFrameData int
	buf          []byte // scratch; holds any undrained bytes between Write calls
	queue        []*Frame
}

// NewBuilder creates a Builder whose scratch buffer is pre-sized to
// maxFrameData+3, the largest single frame it will ever need to hold.
func NewBuilder(maxFrameData int) *Builder {
	return &Builder{
		maxFrameData: maxFrameData,
		buf:          make([]byte, 0, maxFrameData+3),
	}
}

// Write appends chunk to the internal scratch buffer and drains as many
// complete frames as possible into the output queue. It returns
// ErrInvalidFrame (wrapped) on any codec violation, at which point the
// caller must close the session — the builder's internal state is no
// longer trustworthy.
func (b *Builder) Write(chunk []byte) error {
	b.buf = append(b.buf, chunk...)

	off := 0
	for {
		f, n, ok, err := parseOne(b.buf[off:], b.maxFrameData)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		b.queue = append(b.queue, f)
		off += n
	}

	if off > 0 {
		remaining := len(b.buf) - off
		copy(b.buf, b.buf[off:])
		b.buf = b.buf[:remaining]
	}
	return nil
}

// Frames drains and returns every frame parsed so far, resetting the
// output queue.
func (b *Builder) Frames() []*Frame {
	if len(b.queue) == 0 {
		return nil
	}
	out := b.queue
	b.queue = nil
	return out
}

// Pending reports how many undrained frames are queued without draining
// them; useful for coalescing the IncomingMessage event in §4.3.
func (b *Builder) Pending() int {
	return len(b.queue)
}

// parseOne attempts to parse a single frame from data. ok is false when
// data holds an incomplete frame (need more bytes); err is non-nil only
// for a genuine wire violation.
func parseOne(data []byte, maxFrameData int) (f *Frame, n int, ok bool, err error) {
	if len(data) < 1 {
		return nil, 0, false, nil
	}
	t := Type(data[0])
	if !validType(t) {
		return nil, 0, false, fmt.Errorf("%w: unknown type %d", ErrInvalidFrame, data[0])
	}
	if t.zeroPayload() {
		return &Frame{Type: t}, 1, true, nil
	}
	if len(data) < 3 {
		return nil, 0, false, nil
	}
	length := int(binary.LittleEndian.Uint16(data[1:3]))
	if length > maxFrameData {
		return nil, 0, false, fmt.Errorf("%w: data length %d exceeds max %d", ErrInvalidFrame, length, maxFrameData)
	}
	if length == 0 && (t == More || t == Last) {
		return nil, 0, false, fmt.Errorf("%w: zero-length %s; use Empty/EmptyLast", ErrInvalidFrame, t)
	}
	total := 3 + length
	if len(data) < total {
		return nil, 0, false, nil
	}
	payload := make([]byte, length)
	copy(payload, data[3:total])
	return &Frame{Type: t, Data: payload}, total, true, nil
}
