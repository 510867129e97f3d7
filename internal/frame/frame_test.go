package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		f    *Frame
	}{
		{"ping", &Frame{Type: Ping}},
		{"empty", &Frame{Type: Empty}},
		{"empty last", &Frame{Type: EmptyLast}},
		{"more", &Frame{Type: More, Data: []byte{0x01, 0x02, 0x03}}},
		{"last", &Frame{Type: Last, Data: []byte("hello")}},
		{"command", &Frame{Type: Command, Data: []byte{0x01, 0x02}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(nil, tt.f, 1024)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := DecodeFrom(bytes.NewReader(buf), 1024)
			if err != nil {
				t.Fatalf("DecodeFrom: %v", err)
			}
			if got.Type != tt.f.Type {
				t.Errorf("Type: got %v, want %v", got.Type, tt.f.Type)
			}
			if !bytes.Equal(got.Data, tt.f.Data) {
				t.Errorf("Data: got %v, want %v", got.Data, tt.f.Data)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := DecodeFrom(bytes.NewReader([]byte{0xFF}), 1024)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestDecodeOversizedLength(t *testing.T) {
	buf, _ := Encode(nil, &Frame{Type: Last, Data: make([]byte, 10)}, 1024)
	_, err := DecodeFrom(bytes.NewReader(buf), 5)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestEncodeZeroLengthMoreRejected(t *testing.T) {
	_, err := Encode(nil, &Frame{Type: More, Data: nil}, 1024)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame for zero-length More, got %v", err)
	}
	_, err = Encode(nil, &Frame{Type: Last, Data: []byte{}}, 1024)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame for zero-length Last, got %v", err)
	}
}

func TestDecodeFromMidFrameEOF(t *testing.T) {
	buf, _ := Encode(nil, &Frame{Type: Last, Data: []byte("hello")}, 1024)
	_, err := DecodeFrom(bytes.NewReader(buf[:4]), 1024)
	if err == nil {
		t.Fatal("expected error for truncated stream")
	}
	if errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("truncated stream should not surface as ErrInvalidFrame, got %v", err)
	}
}
