package tcdicn

import (
	"strings"
	"testing"
	"time"

	"github.com/Pragatiaboti/tcdicn/transport"
	"github.com/Pragatiaboti/tcdicn/wire"
)

func newTestNodeWithTransport(t *testing.T) *Node {
	t.Helper()
	tr, err := transport.Open(0, 0)
	if err != nil {
		t.Fatalf("open transport: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	n := New()
	n.transport = tr
	n.started = true
	return n
}

func TestFlushBroadcastAlwaysAcceptsFirstItem(t *testing.T) {
	n := newTestNodeWithTransport(t)
	huge := wire.Advert{Client: "c", Labels: []string{strings.Repeat("x", wire.BroadcastCapacity)}, Score: 1, TTP: 1}
	n.enqueueBroadcast(huge, time.Now())

	n.flushBroadcast()

	if n.bq.Len() != 0 {
		t.Fatalf("oversized single item should always be accepted and drained, queue len = %d", n.bq.Len())
	}
}

func TestFlushBroadcastStopsBeforeExceedingCap(t *testing.T) {
	n := newTestNodeWithTransport(t)
	for i := 0; i < 200; i++ {
		n.enqueueBroadcast(wire.Peer{Eol: float64(i)}, time.Now())
	}

	n.flushBroadcast()

	if n.bq.Len() == 0 {
		t.Fatal("200 peer items should not all fit under the soft MTU cap in one flush")
	}
}

func TestFlushBroadcastDrainsSmallBatchEntirely(t *testing.T) {
	n := newTestNodeWithTransport(t)
	for i := 0; i < 3; i++ {
		n.enqueueBroadcast(wire.Peer{Eol: float64(i)}, time.Now())
	}

	n.flushBroadcast()

	if n.bq.Len() != 0 {
		t.Fatalf("a small batch should drain entirely, queue len = %d", n.bq.Len())
	}
}

func TestFlushUnicastMainRetriesNextRouteWithoutExtension(t *testing.T) {
	n := New()
	n.started = true
	n.isMain = true

	deadline := time.Now().Add(time.Second)
	unreachable := Addr{Host: "127.0.0.1", Port: 1}
	fallback := Addr{Host: "127.0.0.1", Port: 2}
	routes := []RouteEntry{{Addr: unreachable, Score: 100}, {Addr: fallback, Score: 50}}

	n.enqueueUnicast("c", true, routes, wire.Get{Client: "c", Label: "t"}, deadline)
	n.flushUnicast()

	if n.uq.Len() != 1 {
		t.Fatalf("failed send should be requeued once, queue len = %d", n.uq.Len())
	}
	entry := n.uq.entries[0]
	if len(entry.routes) != 1 || entry.routes[0].Addr != fallback {
		t.Fatalf("requeued entry should drop the failed next-hop, routes = %+v", entry.routes)
	}
	if !entry.deadline.Equal(deadline) {
		t.Fatalf("main node should not extend the deadline on failover, got %v want %v", entry.deadline, deadline)
	}
}

func TestFlushUnicastNonMainExtendsDeadlineOnFailure(t *testing.T) {
	n := New()
	n.started = true
	n.isMain = false
	n.dport = 1

	deadline := time.Now().Add(time.Second)
	n.enqueueUnicast("c", true, nil, wire.Get{Client: "c", Label: "t"}, deadline)
	n.flushUnicast()

	if n.uq.Len() != 1 {
		t.Fatalf("failed send should be requeued once, queue len = %d", n.uq.Len())
	}
	entry := n.uq.entries[0]
	if !entry.deadline.After(deadline) {
		t.Fatalf("non-main node should extend the deadline on failover, got %v want after %v", entry.deadline, deadline)
	}
	if got := entry.deadline.Sub(deadline); got < DeadlineExt-time.Millisecond || got > DeadlineExt+time.Second {
		t.Fatalf("extension = %v, want ~%v", got, DeadlineExt)
	}
}

func TestFlushUnicastRequeuesWhenRoutesEmpty(t *testing.T) {
	n := New()
	n.started = true
	n.isMain = true

	deadline := time.Now().Add(time.Second)
	n.enqueueUnicast("c", true, nil, wire.Get{Client: "c", Label: "t"}, deadline)
	n.flushUnicast()

	if n.uq.Len() != 1 {
		t.Fatalf("item with no known route should be requeued, queue len = %d", n.uq.Len())
	}
	entry := n.uq.entries[0]
	if got := entry.deadline.Sub(deadline); got < DeadlineExt-time.Millisecond {
		t.Fatalf("routeless requeue should extend by DeadlineExt, got %v", got)
	}
}
