package rpc

import (
	"context"
	"fmt"
)

// Call issues a MethodCall and blocks for its return (§4.9). ctx doubles
// as the cancellation token: cancelling it sends MethodCancel and
// returns ErrCancelled. A non-nil out receives the decoded return value;
// pass nil to discard it.
func (e *Endpoint) Call(ctx context.Context, service, method string, args []interface{}, out interface{}) error {
	if !e.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	encodedArgs, err := e.encodeArgs(args)
	if err != nil {
		return err
	}

	handle := e.localWaits.Allocate()
	payload := encodeMethodCall(handle.ID, service, method, encodedArgs)
	if err := e.send(payload); err != nil {
		e.localWaits.Release(handle.ID)
		return fmt.Errorf("rpc: sending call: %w", err)
	}

	value, exc, err := handle.Wait(ctx)
	if err != nil {
		if err == ErrCancelled {
			e.localWaits.Release(handle.ID)
			e.trySend(encodeMethodCancel(handle.ID))
		}
		return err
	}
	if exc != nil {
		return exc
	}
	if out != nil {
		if err := e.codec.Decode(value, out, 0); err != nil {
			return fmt.Errorf("rpc: decoding return value: %w", err)
		}
	}
	return nil
}

// CallNoReturn issues a fire-and-forget MethodCallNoReturn (§4.9).
func (e *Endpoint) CallNoReturn(service, method string, args []interface{}) error {
	if !e.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	encodedArgs, err := e.encodeArgs(args)
	if err != nil {
		return err
	}
	return e.send(encodeMethodCallNoReturn(service, method, encodedArgs))
}

func (e *Endpoint) encodeArgs(args []interface{}) ([][]byte, error) {
	encoded := make([][]byte, len(args))
	for i, a := range args {
		b, err := e.codec.Encode(a, i)
		if err != nil {
			return nil, fmt.Errorf("rpc: encoding arg %d: %w", i, err)
		}
		encoded[i] = b
	}
	return encoded, nil
}
