package rpc

import (
	"context"
	"sync"
)

// WaitHandle is one outstanding correlation slot in the local-originated
// table (proxy calls awaiting a return), per §4.8/§4.9. Inbound calls
// awaiting cancellation are tracked separately, in Endpoint's map of
// cancel functions keyed by return_id.
type WaitHandle struct {
	ID uint16

	done      chan struct{}
	closeOnce sync.Once

	value     []byte
	exception *RemoteException
}

func newWaitHandle(id uint16) *WaitHandle {
	return &WaitHandle{ID: id, done: make(chan struct{})}
}

func (h *WaitHandle) resolve(value []byte, exc *RemoteException) {
	h.closeOnce.Do(func() {
		h.value = value
		h.exception = exc
		close(h.done)
	})
}

// Wait blocks until the handle is resolved or ctx is cancelled. A
// resolution carrying neither a value nor an exception reports
// ErrTimeout, matching §4.9's "spurious signal" case.
func (h *WaitHandle) Wait(ctx context.Context) ([]byte, *RemoteException, error) {
	select {
	case <-h.done:
		if h.value == nil && h.exception == nil {
			return nil, nil, ErrTimeout
		}
		return h.value, h.exception, nil
	case <-ctx.Done():
		return nil, nil, ErrCancelled
	}
}

// WaitTable allocates 16-bit return ids (wrapping, skipping 0) and
// correlates replies to the handle that requested them (§4.8/§4.9).
type WaitTable struct {
	mu      sync.Mutex
	nextID  uint16
	handles map[uint16]*WaitHandle
}

// NewWaitTable creates an empty table; id allocation starts at 1.
func NewWaitTable() *WaitTable {
	return &WaitTable{nextID: 1, handles: make(map[uint16]*WaitHandle)}
}

// Allocate reserves the next free id (16-bit, wraps, skips 0 and ids
// still in use) and registers a fresh handle for it.
func (t *WaitTable) Allocate() *WaitHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		id := t.nextID
		t.nextID++
		if t.nextID == 0 {
			t.nextID = 1
		}
		if _, inUse := t.handles[id]; inUse {
			continue
		}
		h := newWaitHandle(id)
		t.handles[id] = h
		return h
	}
}

// Resolve attaches a return payload or exception to id's handle and
// wakes its waiter. Unknown ids (already cancelled or timed out) are
// silently dropped, per §4.8's outgoing-return-dispatch rule.
func (t *WaitTable) Resolve(id uint16, value []byte, exc *RemoteException) bool {
	t.mu.Lock()
	h, ok := t.handles[id]
	if ok {
		delete(t.handles, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	h.resolve(value, exc)
	return true
}

// Release deallocates id without resolving it (used when sending the
// call fails, and on cancellation cleanup).
func (t *WaitTable) Release(id uint16) {
	t.mu.Lock()
	delete(t.handles, id)
	t.mu.Unlock()
}

// Len reports the number of outstanding handles (used by metrics and by
// tests asserting the table drains completely).
func (t *WaitTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
