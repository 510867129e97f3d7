package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInvokerBoundsConcurrency(t *testing.T) {
	inv := NewInvoker(2)
	var inFlight, maxSeen atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		inv.Submit(context.Background(), func() {
			defer wg.Done()
			n := inFlight.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
		})
	}
	wg.Wait()

	if maxSeen.Load() > 2 {
		t.Fatalf("max concurrent invocations = %d, want <= 2", maxSeen.Load())
	}
}

func TestInvokerSubmitRunsFn(t *testing.T) {
	inv := NewInvoker(1)
	done := make(chan struct{})
	inv.Submit(context.Background(), func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fn never ran")
	}
}

func TestInvokerSubmitAbortsOnCancelledContext(t *testing.T) {
	inv := NewInvoker(1)
	// saturate the single permit
	hold := make(chan struct{})
	inv.Submit(context.Background(), func() { <-hold })
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := make(chan struct{}, 1)
	inv.Submit(ctx, func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("fn ran despite cancelled context and no free permit")
	case <-time.After(50 * time.Millisecond):
	}
	close(hold)
}
