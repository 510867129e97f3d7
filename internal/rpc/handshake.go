package rpc

import (
	"context"
	"fmt"
	"time"
)

// HandlerHandshake tags the three handshake messages (§4.10), kept on a
// handler id distinct from HandlerRPC so a peer mid-handshake can never
// mistake one for a method call.
const HandlerHandshake byte = 2

type handshakeKind byte

const (
	kindServerInfo handshakeKind = iota + 1
	kindAuthenticate
	kindAuthenticationResult
)

// ServerInfo is the first message a server sends on Connected.
type ServerInfo struct {
	Version               string
	Message               string
	RequireAuthentication bool
}

// Authenticate carries the client's credential bytes.
type Authenticate struct {
	AuthData []byte
}

// AuthenticationResult reports whether the server's verifier accepted
// the client's Authenticate.
type AuthenticationResult struct {
	Authenticated bool
}

func encodeHandshake(codec Codec, kind handshakeKind, v interface{}) ([]byte, error) {
	body, err := codec.Encode(v, 0)
	if err != nil {
		return nil, fmt.Errorf("rpc: encoding handshake message: %w", err)
	}
	return append([]byte{HandlerHandshake, byte(kind)}, body...), nil
}

func decodeHandshake(codec Codec, data []byte) (interface{}, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: truncated handshake envelope", ErrProtocolError)
	}
	body := data[2:]
	switch handshakeKind(data[1]) {
	case kindServerInfo:
		var v ServerInfo
		if err := codec.Decode(body, &v, 0); err != nil {
			return nil, fmt.Errorf("%w: decoding ServerInfo: %v", ErrProtocolError, err)
		}
		return v, nil
	case kindAuthenticate:
		var v Authenticate
		if err := codec.Decode(body, &v, 0); err != nil {
			return nil, fmt.Errorf("%w: decoding Authenticate: %v", ErrProtocolError, err)
		}
		return v, nil
	case kindAuthenticationResult:
		var v AuthenticationResult
		if err := codec.Decode(body, &v, 0); err != nil {
			return nil, fmt.Errorf("%w: decoding AuthenticationResult: %v", ErrProtocolError, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown handshake kind %d", ErrProtocolError, data[1])
	}
}

// Verifier decides whether a client's Authenticate payload is accepted.
type Verifier func(authData []byte) bool

// ServerHandshake runs the server side of §4.10: send ServerInfo, and if
// requireAuth wait up to timeout for Authenticate, verify it, and send
// AuthenticationResult. On success the endpoint is marked authenticated.
func (e *Endpoint) ServerHandshake(ctx context.Context, version, message string, requireAuth bool, timeout time.Duration, verify Verifier) error {
	info := ServerInfo{Version: version, Message: message, RequireAuthentication: requireAuth}
	payload, err := encodeHandshake(e.codec, kindServerInfo, info)
	if err != nil {
		return err
	}
	if err := e.send(payload); err != nil {
		return fmt.Errorf("rpc: sending ServerInfo: %w", err)
	}

	if !requireAuth {
		e.SetAuthenticated(true)
		return nil
	}

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := e.waitHandshake(deadline)
	if err != nil {
		return ErrTimeout
	}
	auth, ok := msg.(Authenticate)
	if !ok {
		return fmt.Errorf("%w: expected Authenticate, got %T", ErrProtocolError, msg)
	}

	accepted := verify(auth.AuthData)
	resultPayload, err := encodeHandshake(e.codec, kindAuthenticationResult, AuthenticationResult{Authenticated: accepted})
	if err != nil {
		return err
	}
	if err := e.send(resultPayload); err != nil {
		return fmt.Errorf("rpc: sending AuthenticationResult: %w", err)
	}
	if !accepted {
		return ErrAuthenticationFailure
	}
	e.SetAuthenticated(true)
	return nil
}

// ClientHandshake runs the client side of §4.10: wait for ServerInfo, and
// if it requires authentication, send Authenticate and wait for the
// result.
func (e *Endpoint) ClientHandshake(ctx context.Context, authData []byte) (ServerInfo, error) {
	msg, err := e.waitHandshake(ctx)
	if err != nil {
		return ServerInfo{}, ErrTimeout
	}
	info, ok := msg.(ServerInfo)
	if !ok {
		return ServerInfo{}, fmt.Errorf("%w: expected ServerInfo, got %T", ErrProtocolError, msg)
	}

	if !info.RequireAuthentication {
		e.SetAuthenticated(true)
		return info, nil
	}

	payload, err := encodeHandshake(e.codec, kindAuthenticate, Authenticate{AuthData: authData})
	if err != nil {
		return info, err
	}
	if err := e.send(payload); err != nil {
		return info, fmt.Errorf("rpc: sending Authenticate: %w", err)
	}

	resultMsg, err := e.waitHandshake(ctx)
	if err != nil {
		return info, ErrTimeout
	}
	result, ok := resultMsg.(AuthenticationResult)
	if !ok {
		return info, fmt.Errorf("%w: expected AuthenticationResult, got %T", ErrProtocolError, resultMsg)
	}
	if !result.Authenticated {
		return info, ErrAuthenticationFailure
	}
	e.SetAuthenticated(true)
	return info, nil
}

func (e *Endpoint) waitHandshake(ctx context.Context) (interface{}, error) {
	select {
	case msg := <-e.handshakeCh:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
