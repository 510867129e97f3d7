// Package rpc implements the request/response and fire-and-forget method
// invocation protocol carried inside dmq messages (§4.8-§4.10).
package rpc

import (
	"encoding/binary"
	"fmt"
)

// HandlerRPC is the handler_id of every method-call message; it occupies
// byte 0 of the first frame. Handshake messages use HandlerHandshake
// instead.
const HandlerRPC byte = 1

// Action is byte 1 of an RPC message: what kind of call/response this is.
type Action byte

const (
	MethodCall         Action = 1
	MethodCallNoReturn Action = 2
	MethodReturn       Action = 3
	MethodException    Action = 4
	MethodCancel       Action = 5
)

func (a Action) String() string {
	switch a {
	case MethodCall:
		return "MethodCall"
	case MethodCallNoReturn:
		return "MethodCallNoReturn"
	case MethodReturn:
		return "MethodReturn"
	case MethodException:
		return "MethodException"
	case MethodCancel:
		return "MethodCancel"
	default:
		return fmt.Sprintf("Action(%d)", byte(a))
	}
}

// Strings (service/method names, exception fields) are u16-length
// prefixed, matching the frame codec's own length field width. Argument
// and return-value blobs are u32-length prefixed since a codec's
// encoding of a single value is not bounded the way a frame is.

func putString(dst []byte, s string) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, s...)
}

func getString(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("%w: truncated string length", ErrProtocolError)
	}
	n := binary.LittleEndian.Uint16(data[:2])
	data = data[2:]
	if len(data) < int(n) {
		return "", nil, fmt.Errorf("%w: truncated string body", ErrProtocolError)
	}
	return string(data[:n]), data[n:], nil
}

func putBlob(dst []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...)
}

func getBlob(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated blob length", ErrProtocolError)
	}
	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("%w: truncated blob body", ErrProtocolError)
	}
	return data[:n], data[n:], nil
}

func putReturnID(dst []byte, id uint16) []byte {
	var idBuf [2]byte
	binary.LittleEndian.PutUint16(idBuf[:], id)
	return append(dst, idBuf[:]...)
}

func getReturnID(data []byte) (uint16, []byte, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("%w: truncated return_id", ErrProtocolError)
	}
	return binary.LittleEndian.Uint16(data[:2]), data[2:], nil
}

// encodeMethodCall builds the byte 0/1 header plus a MethodCall body.
func encodeMethodCall(returnID uint16, service, method string, args [][]byte) []byte {
	dst := []byte{HandlerRPC, byte(MethodCall)}
	dst = putReturnID(dst, returnID)
	dst = putString(dst, service)
	dst = putString(dst, method)
	dst = append(dst, byte(len(args)))
	for _, a := range args {
		dst = putBlob(dst, a)
	}
	return dst
}

func encodeMethodCallNoReturn(service, method string, args [][]byte) []byte {
	dst := []byte{HandlerRPC, byte(MethodCallNoReturn)}
	dst = putString(dst, service)
	dst = putString(dst, method)
	dst = append(dst, byte(len(args)))
	for _, a := range args {
		dst = putBlob(dst, a)
	}
	return dst
}

func encodeMethodReturn(returnID uint16, value []byte) []byte {
	dst := []byte{HandlerRPC, byte(MethodReturn)}
	dst = putReturnID(dst, returnID)
	return putBlob(dst, value)
}

func encodeMethodException(returnID uint16, exc *RemoteException) []byte {
	dst := []byte{HandlerRPC, byte(MethodException)}
	dst = putReturnID(dst, returnID)
	dst = putString(dst, exc.TypeName)
	dst = putString(dst, exc.Message)
	dst = putString(dst, exc.Stack)
	return dst
}

func encodeMethodCancel(returnID uint16) []byte {
	dst := []byte{HandlerRPC, byte(MethodCancel)}
	return putReturnID(dst, returnID)
}

// decodeEnvelope strips the handler_id/action header and verifies the
// handler_id, returning the action and the remaining body bytes.
func decodeEnvelope(data []byte) (Action, []byte, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("%w: truncated rpc envelope", ErrProtocolError)
	}
	if data[0] != HandlerRPC {
		return 0, nil, fmt.Errorf("%w: unknown handler_id %d", ErrProtocolError, data[0])
	}
	action := Action(data[1])
	switch action {
	case MethodCall, MethodCallNoReturn, MethodReturn, MethodException, MethodCancel:
		return action, data[2:], nil
	default:
		return 0, nil, fmt.Errorf("%w: unknown rpc action %d", ErrProtocolError, data[1])
	}
}

type methodCallBody struct {
	returnID uint16
	service  string
	method   string
	args     [][]byte
}

func decodeMethodCall(body []byte) (methodCallBody, error) {
	var out methodCallBody
	var err error
	out.returnID, body, err = getReturnID(body)
	if err != nil {
		return out, err
	}
	return decodeMethodCallBody(out.returnID, body)
}

func decodeMethodCallNoReturn(body []byte) (methodCallBody, error) {
	return decodeMethodCallBody(0, body)
}

func decodeMethodCallBody(returnID uint16, body []byte) (methodCallBody, error) {
	out := methodCallBody{returnID: returnID}
	var err error
	out.service, body, err = getString(body)
	if err != nil {
		return out, err
	}
	out.method, body, err = getString(body)
	if err != nil {
		return out, err
	}
	if len(body) < 1 {
		return out, fmt.Errorf("%w: truncated argc", ErrProtocolError)
	}
	argc := int(body[0])
	body = body[1:]
	out.args = make([][]byte, argc)
	for i := 0; i < argc; i++ {
		var blob []byte
		blob, body, err = getBlob(body)
		if err != nil {
			return out, err
		}
		out.args[i] = blob
	}
	return out, nil
}

func decodeMethodReturn(body []byte) (id uint16, value []byte, err error) {
	id, body, err = getReturnID(body)
	if err != nil {
		return 0, nil, err
	}
	value, _, err = getBlob(body)
	return id, value, err
}

func decodeMethodException(body []byte) (id uint16, exc *RemoteException, err error) {
	id, body, err = getReturnID(body)
	if err != nil {
		return 0, nil, err
	}
	exc = &RemoteException{}
	exc.TypeName, body, err = getString(body)
	if err != nil {
		return 0, nil, err
	}
	exc.Message, body, err = getString(body)
	if err != nil {
		return 0, nil, err
	}
	exc.Stack, _, err = getString(body)
	return id, exc, err
}

func decodeMethodCancel(body []byte) (uint16, error) {
	id, _, err := getReturnID(body)
	return id, err
}
