package rpc

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in §7. Wire-level violations
// (ErrProtocolError) are the caller's signal to close the session with
// ProtocolError. ErrCancelled, ErrTimeout and ErrNotAuthenticated are
// returned to proxy callers; ErrTimeout and ErrAuthenticationFailure are
// also returned by the handshake. ErrUnknownService and ErrUnknownMethod
// are not returned by this package: those failures reach the caller as a
// *RemoteException whose TypeName is "UnknownService" or "UnknownMethod".
var (
	ErrProtocolError         = errors.New("rpc: protocol error")
	ErrCancelled             = errors.New("rpc: cancelled")
	ErrTimeout               = errors.New("rpc: timeout")
	ErrUnknownService        = errors.New("rpc: unknown service")
	ErrUnknownMethod         = errors.New("rpc: unknown method")
	ErrNotAuthenticated      = errors.New("rpc: not authenticated")
	ErrAuthenticationFailure = errors.New("rpc: authentication failed")
)

// RemoteException carries a method invocation failure across the wire
// (§4.8) and is re-raised as an error on the calling side (§4.9).
type RemoteException struct {
	TypeName string
	Message  string
	Stack    string
}

func (e *RemoteException) Error() string {
	return fmt.Sprintf("%s: %s", e.TypeName, e.Message)
}
