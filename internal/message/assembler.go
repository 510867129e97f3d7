package message

import "github.com/sadewadee/dmq/internal/frame"

// Assembler holds the in-progress message for one mailbox direction and
// turns a stream of drained frames into completed Messages (§4.3).
// Not safe for concurrent use; the mailbox's single-flight guarantee
// makes that unnecessary.
type Assembler struct {
	current []*frame.Frame
}

// Feed appends f to the in-progress message. When f is terminal (Last or
// EmptyLast), the accumulated frames are returned as a completed Message
// and the in-progress message is reset.
func (a *Assembler) Feed(f *frame.Frame) (completed *Message, ok bool) {
	a.current = append(a.current, f)
	if !f.IsTerminal() {
		return nil, false
	}
	frames := a.current
	a.current = nil
	return New(frames), true
}

// Pending reports whether a message is partway through assembly.
func (a *Assembler) Pending() bool {
	return len(a.current) > 0
}
