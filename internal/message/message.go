// Package message assembles and represents ordered frame sequences
// terminated by a Last or EmptyLast frame.
package message

import "github.com/sadewadee/dmq/internal/frame"

// Message is an immutable, ordered sequence of frames whose every
// interior frame is frame.More and whose terminal frame is frame.Last or
// frame.EmptyLast. A message holding a single empty frame is EmptyLast
// alone.
type Message struct {
	Frames []*frame.Frame
}

// New builds a Message from an already-ordered, already-terminated frame
// slice. Callers that only need to send a single payload should use
// NewSingle.
func New(frames []*frame.Frame) *Message {
	return &Message{Frames: frames}
}

// NewSingle builds a one-frame message: Last if data is non-empty,
// EmptyLast otherwise.
func NewSingle(data []byte) *Message {
	if len(data) == 0 {
		return &Message{Frames: []*frame.Frame{{Type: frame.EmptyLast}}}
	}
	return &Message{Frames: []*frame.Frame{{Type: frame.Last, Data: data}}}
}

// Size returns the sum of every frame's wire size.
func (m *Message) Size() int {
	total := 0
	for _, f := range m.Frames {
		total += f.Size()
	}
	return total
}

// Payload concatenates every frame's data, ignoring frame boundaries.
// Most callers with multi-frame protocols want Frames directly instead.
func (m *Message) Payload() []byte {
	total := 0
	for _, f := range m.Frames {
		total += len(f.Data)
	}
	out := make([]byte, 0, total)
	for _, f := range m.Frames {
		out = append(out, f.Data...)
	}
	return out
}
