package mailbox

import (
	"bytes"
	"testing"

	"github.com/sadewadee/dmq/internal/frame"
	"github.com/sadewadee/dmq/internal/message"
)

func TestProcessInboxAssemblesAndCoalescesEvent(t *testing.T) {
	mb := New(1024, 0)

	var buf []byte
	buf, _ = frame.Encode(buf, &frame.Frame{Type: frame.Last, Data: []byte("one")}, 1024)
	buf, _ = frame.Encode(buf, &frame.Frame{Type: frame.Last, Data: []byte("two")}, 1024)

	mb.EnqueueIncomingBuffer(gathered(buf))

	events := 0
	if err := mb.ProcessInbox(func() { events++ }); err != nil {
		t.Fatalf("ProcessInbox: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected exactly 1 coalesced event, got %d", events)
	}

	msg1, ok := mb.DequeueIncoming()
	if !ok || string(msg1.Payload()) != "one" {
		t.Fatalf("unexpected first message: %+v", msg1)
	}
	msg2, ok := mb.DequeueIncoming()
	if !ok || string(msg2.Payload()) != "two" {
		t.Fatalf("unexpected second message: %+v", msg2)
	}
	if _, ok := mb.DequeueIncoming(); ok {
		t.Fatal("expected inbox to be empty")
	}
}

func TestProcessInboxNoEventWhenNoMessageCompletes(t *testing.T) {
	mb := New(1024, 0)
	buf, _ := frame.Encode(nil, &frame.Frame{Type: frame.More, Data: []byte("partial")}, 1024)
	mb.EnqueueIncomingBuffer(gathered(buf))

	events := 0
	if err := mb.ProcessInbox(func() { events++ }); err != nil {
		t.Fatalf("ProcessInbox: %v", err)
	}
	if events != 0 {
		t.Fatalf("expected no event, got %d", events)
	}
}

func TestProcessInboxInvalidFrameCloses(t *testing.T) {
	mb := New(1024, 0)
	// Not gather-wrapped: a lone frame type byte is no longer valid input
	// to ProcessInbox on its own (§4.4), so this must be rejected as a
	// wire violation rather than silently buffered awaiting more bytes.
	mb.EnqueueIncomingBuffer([]byte{0xFE, 0x00, 0x00, 0x00})
	if err := mb.ProcessInbox(nil); err == nil {
		t.Fatal("expected error for invalid frame")
	}
}

func TestProcessInboxRejectsInvalidFrameInsideGatherEnvelope(t *testing.T) {
	mb := New(1024, 0)
	inner := []byte{0xFE}
	header := []byte{GatherMarker, byte(len(inner)), byte(len(inner) >> 8)}
	mb.EnqueueIncomingBuffer(append(header, inner...))
	if err := mb.ProcessInbox(nil); err == nil {
		t.Fatal("expected error for invalid frame type inside gather envelope")
	}
}

func TestProcessOutboxProcessInboxRoundTrip(t *testing.T) {
	src := New(1024, 0)
	src.EnqueueOutgoing(message.NewSingle([]byte("first")))
	src.EnqueueOutgoing(message.NewSingle([]byte("second")))

	var wire bytes.Buffer
	if err := src.ProcessOutbox(&wire); err != nil {
		t.Fatalf("ProcessOutbox: %v", err)
	}

	dst := New(1024, 0)
	dst.EnqueueIncomingBuffer(wire.Bytes())

	events := 0
	if err := dst.ProcessInbox(func() { events++ }); err != nil {
		t.Fatalf("ProcessInbox: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected exactly 1 coalesced event, got %d", events)
	}

	msg1, ok := dst.DequeueIncoming()
	if !ok || string(msg1.Payload()) != "first" {
		t.Fatalf("unexpected first message: %+v", msg1)
	}
	msg2, ok := dst.DequeueIncoming()
	if !ok || string(msg2.Payload()) != "second" {
		t.Fatalf("unexpected second message: %+v", msg2)
	}
	if _, ok := dst.DequeueIncoming(); ok {
		t.Fatal("expected inbox to be empty")
	}
}

func TestProcessOutboxProcessInboxRoundTripSplitAcrossChunks(t *testing.T) {
	src := New(1024, 0)
	src.EnqueueOutgoing(message.NewSingle([]byte("hello world")))

	var wire bytes.Buffer
	if err := src.ProcessOutbox(&wire); err != nil {
		t.Fatalf("ProcessOutbox: %v", err)
	}

	full := wire.Bytes()
	mid := len(full) / 2

	dst := New(1024, 0)
	dst.EnqueueIncomingBuffer(full[:mid])
	if err := dst.ProcessInbox(nil); err != nil {
		t.Fatalf("ProcessInbox (first half): %v", err)
	}
	if _, ok := dst.DequeueIncoming(); ok {
		t.Fatal("message should not complete from a partial gather envelope")
	}

	dst.EnqueueIncomingBuffer(full[mid:])
	if err := dst.ProcessInbox(nil); err != nil {
		t.Fatalf("ProcessInbox (second half): %v", err)
	}
	msg, ok := dst.DequeueIncoming()
	if !ok || string(msg.Payload()) != "hello world" {
		t.Fatalf("unexpected message after reassembly: %+v", msg)
	}
}

func TestInboxByteCountAccounting(t *testing.T) {
	mb := New(1024, 0)
	chunk := make([]byte, 100)
	mb.EnqueueIncomingBuffer(chunk)
	if got := mb.InboxByteCount(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	mb.ProcessInbox(nil)
	if got := mb.InboxByteCount(); got != 0 {
		t.Fatalf("expected 0 after processing, got %d", got)
	}
}

func TestBackPressureSignal(t *testing.T) {
	mb := New(1024, 50)
	if over := mb.EnqueueIncomingBuffer(make([]byte, 10)); over {
		t.Fatal("should not be over limit yet")
	}
	if over := mb.EnqueueIncomingBuffer(make([]byte, 50)); !over {
		t.Fatal("should be over limit")
	}
}

func TestProcessOutboxGatherHeaderAndOrdering(t *testing.T) {
	mb := New(1024, 0)
	mb.EnqueueOutgoing(message.NewSingle([]byte("first")))
	mb.EnqueueOutgoing(message.NewSingle([]byte("second")))

	var wireBuf bytes.Buffer
	if err := mb.ProcessOutbox(&wireBuf); err != nil {
		t.Fatalf("ProcessOutbox: %v", err)
	}

	wire := wireBuf.Bytes()
	if wire[0] != GatherMarker {
		t.Fatalf("expected gather marker, got %x", wire[0])
	}
	gatherLen := int(wire[1]) | int(wire[2])<<8
	gathered := wire[3 : 3+gatherLen]

	var expected []byte
	expected, _ = frame.Encode(expected, &frame.Frame{Type: frame.Last, Data: []byte("first")}, 1024)
	expected, _ = frame.Encode(expected, &frame.Frame{Type: frame.Last, Data: []byte("second")}, 1024)
	if !bytes.Equal(gathered, expected) {
		t.Errorf("gathered bytes mismatch:\ngot  %v\nwant %v", gathered, expected)
	}
	if !mb.OutboxEmpty() {
		t.Error("expected outbox to be drained")
	}
}

func TestProcessOutboxFlushesWhenOverMaxFrameData(t *testing.T) {
	maxFrameData := 10
	mb := New(maxFrameData, 0)
	mb.EnqueueOutgoing(message.NewSingle(bytesOf(8)))
	mb.EnqueueOutgoing(message.NewSingle(bytesOf(8)))

	var wireBuf bytes.Buffer
	if err := mb.ProcessOutbox(&wireBuf); err != nil {
		t.Fatalf("ProcessOutbox: %v", err)
	}

	wire := wireBuf.Bytes()
	flushes := 0
	for i := 0; i < len(wire); {
		if wire[i] != GatherMarker {
			t.Fatalf("expected gather marker at %d, got %x", i, wire[i])
		}
		n := int(wire[i+1]) | int(wire[i+2])<<8
		i += 3 + n
		flushes++
	}
	if flushes != 2 {
		t.Fatalf("expected 2 flushes (8+8 > max 10), got %d", flushes)
	}
}

// gathered wraps encoded frames in one gather envelope, the form
// ProcessOutbox puts on the wire.
func gathered(frames []byte) []byte {
	return append([]byte{GatherMarker, byte(len(frames)), byte(len(frames) >> 8)}, frames...)
}

func bytesOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
