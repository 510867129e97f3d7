package rpc

import "context"

// Invoker bounds how many RPC method invocations run concurrently, so a
// burst of calls cannot spawn unbounded goroutines. Unlike the teacher's
// PHP process pool it has nothing to spawn or recycle: a permit is just
// a slot in a buffered channel, acquired before running the method body
// and released when it returns.
type Invoker struct {
	permits chan struct{}
}

// NewInvoker creates an Invoker allowing up to maxConcurrent invocations
// at once.
func NewInvoker(maxConcurrent int) *Invoker {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Invoker{permits: make(chan struct{}, maxConcurrent)}
}

// Submit runs fn on its own goroutine once a permit is available. If ctx
// is done while the goroutine waits for a permit, fn is dropped without
// running. Submit never blocks the caller: acquisition happens inside
// the spawned goroutine.
func (p *Invoker) Submit(ctx context.Context, fn func()) {
	go func() {
		select {
		case p.permits <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-p.permits }()
		fn()
	}()
}
