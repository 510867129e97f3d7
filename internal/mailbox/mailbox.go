// Package mailbox implements the per-session inbox/outbox: batching
// outbound frames into gathered network writes, parsing inbound bytes
// into messages, and enforcing back-pressure on unparsed inbound bytes.
package mailbox

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sadewadee/dmq/internal/frame"
	"github.com/sadewadee/dmq/internal/message"
)

// GatherMarker is the type byte prefixing a batched write (§4.4): a
// gather header is never a valid frame type, so a gathered write can
// never be mistaken for a lone frame. It is written ahead of every
// flushed write-gather buffer (ProcessOutbox) and stripped back off by
// the reader (pushGathered) before the enclosed bytes ever reach
// FrameBuilder — the receiver parses frames independently of how the
// writer happened to batch them onto the wire.
const GatherMarker = 0x00

// Mailbox owns one session's inbound/outbound queues and parser state.
// At most one reader and one writer may act on a Mailbox at any instant
// (enforced by the postmaster's single-flight, not by Mailbox itself).
type Mailbox struct {
	maxFrameData int

	inMu       sync.Mutex
	inboxBytes [][]byte
	gatherBuf  []byte // undrained gather-envelope bytes held across ProcessInbox calls
	builder    *frame.Builder
	assembler  message.Assembler
	inbox      []*message.Message

	inboxByteCount atomic.Int64
	backPressure   int64 // high-water mark; 0 disables back-pressure

	outMu  sync.Mutex
	outbox []*message.Message
}

// New creates a Mailbox whose frame parser is sized for maxFrameData and
// whose back-pressure high-water mark (in unparsed inbound bytes) is
// backPressureBytes (0 disables the check).
func New(maxFrameData int, backPressureBytes int64) *Mailbox {
	return &Mailbox{
		maxFrameData: maxFrameData,
		builder:      frame.NewBuilder(maxFrameData),
		backPressure: backPressureBytes,
	}
}

// EnqueueIncomingBuffer appends a raw byte chunk read off the socket to
// the mailbox's pending-bytes FIFO and returns whether the mailbox is now
// over its back-pressure high-water mark (callers should pause reading
// from the socket until ProcessInbox drains it back down).
func (m *Mailbox) EnqueueIncomingBuffer(chunk []byte) (overLimit bool) {
	if len(chunk) == 0 {
		return false
	}
	m.inMu.Lock()
	m.inboxBytes = append(m.inboxBytes, chunk)
	m.inMu.Unlock()

	total := m.inboxByteCount.Add(int64(len(chunk)))
	return m.backPressure > 0 && total > m.backPressure
}

// InboxByteCount returns the number of bytes currently held in
// inboxBytes awaiting parsing.
func (m *Mailbox) InboxByteCount() int64 {
	return m.inboxByteCount.Load()
}

// ProcessInbox is invoked by a reader worker holding single-flight. It
// drains inboxBytes, strips each write-gather envelope (§4.4/§6) and
// feeds the bytes it contained into the frame builder, assembles
// complete messages, and appends them to inbox. onCompleted is called at
// most once per call if at least one message completed in this pass
// (event coalescing, §4.3). It returns frame.ErrInvalidFrame (wrapped) on
// any wire violation — the caller must close the session with
// ProtocolError in that case.
func (m *Mailbox) ProcessInbox(onCompleted func()) error {
	m.inMu.Lock()
	chunks := m.inboxBytes
	m.inboxBytes = nil
	m.inMu.Unlock()

	if len(chunks) == 0 {
		return nil
	}

	completedAny := false
	for _, chunk := range chunks {
		m.inboxByteCount.Add(-int64(len(chunk)))

		if err := m.pushGathered(chunk); err != nil {
			return fmt.Errorf("mailbox: processing inbox: %w", err)
		}
		for _, f := range m.builder.Frames() {
			if f.Type == frame.Ping {
				continue // consumed before assembly (§4.7); last_received is updated by the reader
			}
			if msg, ok := m.assembler.Feed(f); ok {
				m.inMu.Lock()
				m.inbox = append(m.inbox, msg)
				m.inMu.Unlock()
				completedAny = true
			}
		}
	}

	if completedAny && onCompleted != nil {
		onCompleted()
	}
	return nil
}

// pushGathered appends chunk to the undrained gather-envelope buffer and
// strips as many complete `[0x00, len_lo, len_hi]`-prefixed envelopes as
// it can, forwarding each envelope's payload to the frame builder in
// order. A byte run that is not yet a complete envelope (split across
// socket reads) is held in gatherBuf until the rest arrives. A leading
// byte other than GatherMarker is a wire violation: no other writer
// output ever reaches the reader ahead of a gather header.
func (m *Mailbox) pushGathered(chunk []byte) error {
	m.gatherBuf = append(m.gatherBuf, chunk...)

	off := 0
	for {
		remaining := m.gatherBuf[off:]
		if len(remaining) < 3 {
			break
		}
		if remaining[0] != GatherMarker {
			return fmt.Errorf("%w: expected gather marker 0x00, got %#x", frame.ErrInvalidFrame, remaining[0])
		}
		length := int(remaining[1]) | int(remaining[2])<<8
		if len(remaining) < 3+length {
			break
		}
		if err := m.builder.Write(remaining[3 : 3+length]); err != nil {
			return err
		}
		off += 3 + length
	}

	if off > 0 {
		rem := len(m.gatherBuf) - off
		copy(m.gatherBuf, m.gatherBuf[off:])
		m.gatherBuf = m.gatherBuf[:rem]
	}
	return nil
}

// DequeueIncoming pops the oldest completed message, FIFO.
func (m *Mailbox) DequeueIncoming() (*message.Message, bool) {
	m.inMu.Lock()
	defer m.inMu.Unlock()
	if len(m.inbox) == 0 {
		return nil, false
	}
	msg := m.inbox[0]
	m.inbox = m.inbox[1:]
	return msg, true
}

// EnqueueOutgoing appends an immutable message to the outbox, FIFO.
func (m *Mailbox) EnqueueOutgoing(msg *message.Message) {
	m.outMu.Lock()
	m.outbox = append(m.outbox, msg)
	m.outMu.Unlock()
}

// OutboxEmpty reports whether the outbox currently holds no messages.
// Used by the postmaster's release-then-recheck pattern (§4.6).
func (m *Mailbox) OutboxEmpty() bool {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	return len(m.outbox) == 0
}

// ProcessOutbox is invoked by a writer worker holding single-flight. It
// drains outbox messages greedily into a write-gather buffer: whole
// frames only, flushed with a 3-byte gather header whenever the next
// frame would push the buffer's payload bytes past maxFrameData. Ordering
// is strict FIFO across messages, and frames within a message stay
// contiguous.
func (m *Mailbox) ProcessOutbox(w io.Writer) error {
	m.outMu.Lock()
	msgs := m.outbox
	m.outbox = nil
	m.outMu.Unlock()

	if len(msgs) == 0 {
		return nil
	}

	var gather []byte
	payloadSum := 0
	flush := func() error {
		if len(gather) == 0 {
			return nil
		}
		header := [3]byte{GatherMarker, byte(len(gather)), byte(len(gather) >> 8)}
		if _, err := w.Write(header[:]); err != nil {
			return fmt.Errorf("mailbox: writing gather header: %w", err)
		}
		if _, err := w.Write(gather); err != nil {
			return fmt.Errorf("mailbox: writing gathered frames: %w", err)
		}
		gather = gather[:0]
		payloadSum = 0
		return nil
	}

	for _, msg := range msgs {
		for _, f := range msg.Frames {
			if payloadSum > 0 && payloadSum+len(f.Data) > m.maxFrameData {
				if err := flush(); err != nil {
					return err
				}
			}
			var err error
			gather, err = frame.Encode(gather, f, m.maxFrameData)
			if err != nil {
				return fmt.Errorf("mailbox: encoding outgoing frame: %w", err)
			}
			payloadSum += len(f.Data)
		}
	}
	return flush()
}
