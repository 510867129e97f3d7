package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Call carries one inbound invocation's decoded arguments to a
// registered MethodFunc. Arguments decode lazily so a handler that
// never reads an argument never pays for it.
type Call struct {
	codec   Codec
	rawArgs [][]byte
}

// Argc reports how many arguments were sent.
func (c *Call) Argc() int { return len(c.rawArgs) }

// Arg decodes argument i into out.
func (c *Call) Arg(i int, out interface{}) error {
	if i < 0 || i >= len(c.rawArgs) {
		return fmt.Errorf("rpc: arg index %d out of range (argc=%d)", i, len(c.rawArgs))
	}
	return c.codec.Decode(c.rawArgs[i], out, i)
}

// MethodFunc is a registered service method. ctx is cancelled if the
// caller sends a MethodCancel for this invocation's return_id (every
// registered method is implicitly cancellable; Go's ctx idiom subsumes
// the source's "terminal cancellation token parameter" check, per
// Design Note 9(a): resolve at registration, not reflectively per call).
type MethodFunc func(ctx context.Context, call *Call) (interface{}, error)

type methodEntry struct {
	fn MethodFunc
}

// Endpoint is one session's RPC channel: it serves incoming calls
// against a registered method table (§4.8) and issues outgoing proxy
// calls (§4.9) over the same wire.
type Endpoint struct {
	codec   Codec
	invoker *Invoker
	send    func([]byte) error
	logger  *slog.Logger

	mu       sync.RWMutex
	services map[string]map[string]methodEntry

	localWaits *WaitTable

	cancelMu  sync.Mutex
	cancelFns map[uint16]context.CancelFunc

	authenticated atomic.Bool
	requireAuth   bool

	handshakeCh chan interface{}
}

// NewEndpoint constructs an Endpoint. send delivers one already-framed
// RPC payload (the result of message.NewSingle(payload) is left to the
// caller, typically wiring to Session.Enqueue).
func NewEndpoint(codec Codec, invoker *Invoker, send func([]byte) error, requireAuth bool, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		codec:       codec,
		invoker:     invoker,
		send:        send,
		logger:      logger,
		services:    make(map[string]map[string]methodEntry),
		localWaits:  NewWaitTable(),
		cancelFns:   make(map[uint16]context.CancelFunc),
		requireAuth: requireAuth,
		handshakeCh: make(chan interface{}, 4),
	}
}

// RegisterMethod adds a method to service's table (§9: resolved once at
// registration, never reflectively at call time).
func (e *Endpoint) RegisterMethod(service, method string, fn MethodFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	svc, ok := e.services[service]
	if !ok {
		svc = make(map[string]methodEntry)
		e.services[service] = svc
	}
	svc[method] = methodEntry{fn: fn}
}

// SetAuthenticated marks the session Ready for proxy calls (§4.10).
func (e *Endpoint) SetAuthenticated(v bool) { e.authenticated.Store(v) }

// IsAuthenticated reports whether the handshake has completed (or
// authentication was never required).
func (e *Endpoint) IsAuthenticated() bool { return e.authenticated.Load() }

// PendingCalls reports the number of outstanding proxy calls (exposed
// for metrics).
func (e *Endpoint) PendingCalls() int { return e.localWaits.Len() }

func (e *Endpoint) lookupMethod(service, method string) (MethodFunc, bool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	svc, ok := e.services[service]
	if !ok {
		return nil, false, false
	}
	entry, ok := svc[method]
	return entry.fn, true, ok
}
