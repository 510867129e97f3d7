package rpc

import (
	"bytes"
	"testing"
)

func TestMethodCallRoundTrip(t *testing.T) {
	args := [][]byte{[]byte("hello"), []byte("world")}
	encoded := encodeMethodCall(42, "Mailbox", "Send", args)

	action, body, err := decodeEnvelope(encoded)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if action != MethodCall {
		t.Fatalf("action = %v, want MethodCall", action)
	}
	call, err := decodeMethodCall(body)
	if err != nil {
		t.Fatalf("decodeMethodCall: %v", err)
	}
	if call.returnID != 42 || call.service != "Mailbox" || call.method != "Send" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if len(call.args) != 2 || !bytes.Equal(call.args[0], args[0]) || !bytes.Equal(call.args[1], args[1]) {
		t.Fatalf("unexpected args: %+v", call.args)
	}
}

func TestMethodCallNoReturnRoundTrip(t *testing.T) {
	encoded := encodeMethodCallNoReturn("Log", "Write", [][]byte{[]byte("x")})
	action, body, err := decodeEnvelope(encoded)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if action != MethodCallNoReturn {
		t.Fatalf("action = %v", action)
	}
	call, err := decodeMethodCallNoReturn(body)
	if err != nil {
		t.Fatalf("decodeMethodCallNoReturn: %v", err)
	}
	if call.returnID != 0 || call.service != "Log" || call.method != "Write" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestMethodReturnRoundTrip(t *testing.T) {
	encoded := encodeMethodReturn(7, []byte("result"))
	action, body, err := decodeEnvelope(encoded)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if action != MethodReturn {
		t.Fatalf("action = %v", action)
	}
	id, value, err := decodeMethodReturn(body)
	if err != nil {
		t.Fatalf("decodeMethodReturn: %v", err)
	}
	if id != 7 || !bytes.Equal(value, []byte("result")) {
		t.Fatalf("unexpected return: id=%d value=%q", id, value)
	}
}

func TestMethodExceptionRoundTrip(t *testing.T) {
	exc := &RemoteException{TypeName: "ValueError", Message: "bad input", Stack: "trace"}
	encoded := encodeMethodException(9, exc)
	action, body, err := decodeEnvelope(encoded)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if action != MethodException {
		t.Fatalf("action = %v", action)
	}
	id, decoded, err := decodeMethodException(body)
	if err != nil {
		t.Fatalf("decodeMethodException: %v", err)
	}
	if id != 9 || decoded.TypeName != exc.TypeName || decoded.Message != exc.Message || decoded.Stack != exc.Stack {
		t.Fatalf("unexpected exception: %+v", decoded)
	}
}

func TestMethodCancelRoundTrip(t *testing.T) {
	encoded := encodeMethodCancel(99)
	action, body, err := decodeEnvelope(encoded)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if action != MethodCancel {
		t.Fatalf("action = %v", action)
	}
	id, err := decodeMethodCancel(body)
	if err != nil {
		t.Fatalf("decodeMethodCancel: %v", err)
	}
	if id != 99 {
		t.Fatalf("id = %d, want 99", id)
	}
}

func TestDecodeEnvelopeRejectsUnknownHandler(t *testing.T) {
	_, _, err := decodeEnvelope([]byte{0xFF, byte(MethodCall)})
	if err == nil {
		t.Fatal("expected error for unknown handler_id")
	}
}

func TestDecodeEnvelopeRejectsTruncated(t *testing.T) {
	_, _, err := decodeEnvelope([]byte{HandlerRPC})
	if err == nil {
		t.Fatal("expected error for truncated envelope")
	}
}

func TestDecodeEnvelopeRejectsUnknownAction(t *testing.T) {
	_, _, err := decodeEnvelope([]byte{HandlerRPC, 0xFF})
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestGetStringTruncated(t *testing.T) {
	if _, _, err := getString([]byte{1}); err == nil {
		t.Fatal("expected error for truncated string length")
	}
	if _, _, err := getString([]byte{5, 0, 'h', 'i'}); err == nil {
		t.Fatal("expected error for truncated string body")
	}
}

func TestGetBlobTruncated(t *testing.T) {
	if _, _, err := getBlob([]byte{1, 0, 0}); err == nil {
		t.Fatal("expected error for truncated blob length")
	}
}
