package message

import (
	"bytes"
	"testing"

	"github.com/sadewadee/dmq/internal/frame"
)

func TestAssemblerSingleFrameMessage(t *testing.T) {
	a := &Assembler{}
	msg, ok := a.Feed(&frame.Frame{Type: frame.Last, Data: []byte{0x01, 0x02, 0x03}})
	if !ok {
		t.Fatal("expected message to complete")
	}
	if len(msg.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(msg.Frames))
	}
	if !bytes.Equal(msg.Frames[0].Data, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("unexpected payload: %v", msg.Frames[0].Data)
	}
	if a.Pending() {
		t.Error("assembler should have no pending message after completion")
	}
}

func TestAssemblerEmptyLastAlone(t *testing.T) {
	a := &Assembler{}
	msg, ok := a.Feed(&frame.Frame{Type: frame.EmptyLast})
	if !ok {
		t.Fatal("expected message to complete")
	}
	if len(msg.Frames) != 1 || msg.Frames[0].Type != frame.EmptyLast {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestAssemblerMultiFrameMessage(t *testing.T) {
	a := &Assembler{}
	payloads := [][]byte{
		bytesOf(50, 0),
		bytesOf(50, 0),
		bytesOf(50, 0),
	}
	for i, p := range payloads {
		typ := frame.More
		if i == len(payloads)-1 {
			typ = frame.Last
		}
		msg, ok := a.Feed(&frame.Frame{Type: typ, Data: p})
		if i < len(payloads)-1 {
			if ok {
				t.Fatalf("frame %d should not complete the message", i)
			}
			continue
		}
		if !ok {
			t.Fatal("final frame should complete the message")
		}
		if len(msg.Frames) != len(payloads) {
			t.Fatalf("got %d frames, want %d", len(msg.Frames), len(payloads))
		}
	}
}

func TestAssemblerSequenceOfMessages(t *testing.T) {
	a := &Assembler{}
	var completed []*Message

	feed := func(f *frame.Frame) {
		if msg, ok := a.Feed(f); ok {
			completed = append(completed, msg)
		}
	}

	feed(&frame.Frame{Type: frame.Last, Data: []byte("one")})
	feed(&frame.Frame{Type: frame.More, Data: []byte("two-a")})
	feed(&frame.Frame{Type: frame.Last, Data: []byte("two-b")})
	feed(&frame.Frame{Type: frame.EmptyLast})

	if len(completed) != 3 {
		t.Fatalf("expected 3 completed messages, got %d", len(completed))
	}
	if string(completed[0].Payload()) != "one" {
		t.Errorf("message 0: got %q", completed[0].Payload())
	}
	if string(completed[1].Payload()) != "two-atwo-b" {
		t.Errorf("message 1: got %q", completed[1].Payload())
	}
	if len(completed[2].Frames) != 1 || completed[2].Frames[0].Type != frame.EmptyLast {
		t.Errorf("message 2: got %+v", completed[2])
	}
}

func bytesOf(n int, start byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = start + byte(i)
	}
	return b
}
