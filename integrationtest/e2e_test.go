// Package integrationtest exercises tcdicn.Node purely through its
// exported API, the way an embedding application would.
package integrationtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Pragatiaboti/tcdicn"
)

// TestLocalGetSetRoundTrip is the single-process slice of spec.md §8
// scenario 1 ("Two-node get/set"): a client's own set() wakes its own
// pending get() through the content store's completion handle, with no
// network round trip required to prove that machinery.
func TestLocalGetSetRoundTrip(t *testing.T) {
	node := tcdicn.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &tcdicn.ClientConfig{Name: "alice", TTP: 0.2, Labels: []string{"t"}}
	done := make(chan error, 1)
	go func() { done <- node.Start(ctx, 0, 0, 10*time.Second, 5, client) }()

	// Start binds sockets synchronously before returning control to its
	// background loops; give it a moment to come up.
	time.Sleep(50 * time.Millisecond)

	var wg sync.WaitGroup
	var got string
	var getErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, getErr = node.Get(ctx, "t", 2*time.Second, 4, 0.2, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := node.Set("t", "hello", nil); err != nil {
		t.Fatalf("set: %v", err)
	}

	wg.Wait()
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if got != "hello" {
		t.Fatalf("get returned %q, want %q", got, "hello")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("node did not shut down after context cancellation")
	}
}

// TestPreconditionErrors checks spec.md §7's "Precondition" error kind:
// get/set on a relay-only node fail with a usage error rather than
// blocking or panicking.
func TestPreconditionErrors(t *testing.T) {
	node := tcdicn.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- node.Start(ctx, 0, 0, time.Second, 2, nil) }()
	time.Sleep(50 * time.Millisecond)

	if _, err := node.Get(ctx, "t", time.Second, 2, 0.1, nil); err != tcdicn.ErrNotAClient {
		t.Fatalf("get on relay node: err = %v, want ErrNotAClient", err)
	}
	if err := node.Set("t", "x", nil); err != tcdicn.ErrNotAClient {
		t.Fatalf("set on relay node: err = %v, want ErrNotAClient", err)
	}

	cancel()
	<-done
}
