package rpc

import "context"

// HandleIncoming is the entry point for a decoded inbound message
// payload (the first frame's bytes, per §4.8). Returning a non-nil error
// here is a wire-semantics violation (§7): the caller must close the
// session with ProtocolError. Anything reported by invoking a method
// (UnknownService, UnknownMethod, a thrown exception) is instead
// delivered back to the specific caller as MethodException and never
// surfaces as an error here.
func (e *Endpoint) HandleIncoming(data []byte) error {
	if len(data) >= 1 && data[0] == HandlerHandshake {
		msg, err := decodeHandshake(e.codec, data)
		if err != nil {
			return err
		}
		select {
		case e.handshakeCh <- msg:
		default:
			if e.logger != nil {
				e.logger.Warn("rpc: dropped handshake message, channel full")
			}
		}
		return nil
	}

	action, body, err := decodeEnvelope(data)
	if err != nil {
		return err
	}

	switch action {
	case MethodCall:
		call, err := decodeMethodCall(body)
		if err != nil {
			return err
		}
		e.dispatchCall(action, call)
	case MethodCallNoReturn:
		call, err := decodeMethodCallNoReturn(body)
		if err != nil {
			return err
		}
		e.dispatchCall(action, call)
	case MethodReturn:
		id, value, err := decodeMethodReturn(body)
		if err != nil {
			return err
		}
		e.localWaits.Resolve(id, value, nil)
	case MethodException:
		id, exc, err := decodeMethodException(body)
		if err != nil {
			return err
		}
		e.localWaits.Resolve(id, nil, exc)
	case MethodCancel:
		id, err := decodeMethodCancel(body)
		if err != nil {
			return err
		}
		e.cancelRemote(id)
	}
	return nil
}

func (e *Endpoint) cancelRemote(id uint16) {
	e.cancelMu.Lock()
	cancel, ok := e.cancelFns[id]
	e.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Endpoint) dispatchCall(action Action, call methodCallBody) {
	fn, serviceFound, methodFound := e.lookupMethod(call.service, call.method)
	if !serviceFound {
		e.failCall(action, call.returnID, &RemoteException{TypeName: "UnknownService", Message: call.service})
		return
	}
	if !methodFound {
		e.failCall(action, call.returnID, &RemoteException{TypeName: "UnknownMethod", Message: call.method})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if action == MethodCall {
		e.cancelMu.Lock()
		e.cancelFns[call.returnID] = cancel
		e.cancelMu.Unlock()
	}

	c := &Call{codec: e.codec, rawArgs: call.args}
	e.invoker.Submit(ctx, func() {
		defer func() {
			if action == MethodCall {
				e.cancelMu.Lock()
				delete(e.cancelFns, call.returnID)
				e.cancelMu.Unlock()
			}
			cancel()
		}()

		result, err := fn(ctx, c)
		if action == MethodCallNoReturn {
			return
		}
		if err != nil {
			e.sendException(call.returnID, toRemoteException(err))
			return
		}
		encoded, encErr := e.codec.Encode(result, 0)
		if encErr != nil {
			e.sendException(call.returnID, &RemoteException{TypeName: "EncodeError", Message: encErr.Error()})
			return
		}
		e.trySend(encodeMethodReturn(call.returnID, encoded))
	})
}

// failCall reports UnknownService/UnknownMethod without ever invoking
// the invoker (§4.8: both fail before dispatch).
func (e *Endpoint) failCall(action Action, returnID uint16, exc *RemoteException) {
	if action == MethodCall {
		e.sendException(returnID, exc)
	}
}

func (e *Endpoint) sendException(returnID uint16, exc *RemoteException) {
	e.trySend(encodeMethodException(returnID, exc))
}

func (e *Endpoint) trySend(payload []byte) {
	if err := e.send(payload); err != nil && e.logger != nil {
		e.logger.Warn("rpc: send failed", "error", err)
	}
}

func toRemoteException(err error) *RemoteException {
	if re, ok := err.(*RemoteException); ok {
		return re
	}
	return &RemoteException{TypeName: "error", Message: err.Error()}
}
