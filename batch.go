package tcdicn

import (
	"container/heap"
	"context"
	"time"

	"github.com/Pragatiaboti/tcdicn/internal/logctx"
	"github.com/Pragatiaboti/tcdicn/internal/timer"
	"github.com/Pragatiaboti/tcdicn/transport"
	"github.com/Pragatiaboti/tcdicn/wire"
)

// DeadlineExt is the extension applied when a unicast batch exhausts
// its known routes, or (on a non-main node) after a transport failure.
const DeadlineExt = 10 * time.Second

// broadcastEntry is one item waiting on the broadcast queue (spec.md
// §4.G): peer and advert items, ordered by ascending deadline.
type broadcastEntry struct {
	deadline time.Time
	item     wire.Item
}

type broadcastQueue struct {
	entries []broadcastEntry
	timer   *timer.Handle
}

func newBroadcastQueue() *broadcastQueue { return &broadcastQueue{} }

func (q *broadcastQueue) Len() int { return len(q.entries) }
func (q *broadcastQueue) Less(i, j int) bool {
	return q.entries[i].deadline.Before(q.entries[j].deadline)
}
func (q *broadcastQueue) Swap(i, j int) { q.entries[i], q.entries[j] = q.entries[j], q.entries[i] }
func (q *broadcastQueue) Push(x any)    { q.entries = append(q.entries, x.(broadcastEntry)) }
func (q *broadcastQueue) Pop() any {
	old := q.entries
	n := len(old)
	e := old[n-1]
	q.entries = old[:n-1]
	return e
}

// unicastEntry is one item waiting on the unicast queue (spec.md §4.G):
// get and set items addressed to a destination client (empty/hasTarget
// false for the non-main "push to main" pseudo-target).
type unicastEntry struct {
	deadline  time.Time
	client    string
	hasTarget bool
	routes    []RouteEntry
	item      wire.Item
}

type unicastQueue struct {
	entries []unicastEntry
	timer   *timer.Handle
}

func newUnicastQueue() *unicastQueue { return &unicastQueue{} }

func (q *unicastQueue) Len() int { return len(q.entries) }
func (q *unicastQueue) Less(i, j int) bool {
	return q.entries[i].deadline.Before(q.entries[j].deadline)
}
func (q *unicastQueue) Swap(i, j int) { q.entries[i], q.entries[j] = q.entries[j], q.entries[i] }
func (q *unicastQueue) Push(x any)    { q.entries = append(q.entries, x.(unicastEntry)) }
func (q *unicastQueue) Pop() any {
	old := q.entries
	n := len(old)
	e := old[n-1]
	q.entries = old[:n-1]
	return e
}

// enqueueBroadcast pushes item onto the broadcast queue. Caller holds
// Node.mu and is responsible for calling rescheduleBroadcast once done
// enqueuing (handleMessage batches this per spec.md §4.H).
func (n *Node) enqueueBroadcast(item wire.Item, deadline time.Time) {
	heap.Push(n.bq, broadcastEntry{deadline: deadline, item: item})
	if _, ok := item.(wire.Advert); ok {
		n.met.AdvertsEnqueued.Inc()
	}
}

// enqueueUnicast pushes item onto the unicast queue addressed at
// client (or, if hasTarget is false, the special "forward to main"
// pseudo-target used by non-main nodes).
func (n *Node) enqueueUnicast(client string, hasTarget bool, routes []RouteEntry, item wire.Item, deadline time.Time) {
	heap.Push(n.uq, unicastEntry{deadline: deadline, client: client, hasTarget: hasTarget, routes: routes, item: item})
	switch item.(type) {
	case wire.Get:
		n.met.GetsEnqueued.Inc()
	case wire.Set:
		n.met.SetsEnqueued.Inc()
	}
}

// rescheduleBroadcast cancels any in-flight broadcast timer and installs
// a new one firing at the midpoint between now and the head deadline
// (spec.md §4.G). Caller holds Node.mu.
func (n *Node) rescheduleBroadcast() {
	n.bq.timer.Cancel()
	if n.bq.Len() == 0 {
		return
	}
	head := n.bq.entries[0].deadline
	fire := midpoint(n.now(), head)
	n.bq.timer = timer.Schedule(fire, n.flushBroadcast)
	n.logf("udp batch").Debugf("scheduled next broadcast batch: %s", logctx.Human(fire))
}

// rescheduleUnicast is the unicast-queue analogue of rescheduleBroadcast.
func (n *Node) rescheduleUnicast() {
	n.uq.timer.Cancel()
	if n.uq.Len() == 0 {
		return
	}
	head := n.uq.entries[0].deadline
	fire := midpoint(n.now(), head)
	n.uq.timer = timer.Schedule(fire, n.flushUnicast)
	n.logf("tcp batch").Debugf("scheduled next send batch: %s", logctx.Human(fire))
}

func midpoint(now, deadline time.Time) time.Time {
	return now.Add(deadline.Sub(now) / 2)
}

// flushBroadcast builds one UDP datagram from the head of the broadcast
// queue, accepting the first item unconditionally and subsequent items
// only while the encoded message stays under wire.BroadcastCapacity
// (spec.md §4.G). It runs synchronously under Node.mu — UDP send never
// blocks on a remote peer, so this never stalls other handlers.
func (n *Node) flushBroadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	log := n.logf("udp batch")

	var items []wire.Item
	msgBytes, _ := wire.Encode(wire.New(nil))
	msgLen := len(msgBytes)

	for n.bq.Len() > 0 {
		entry := heap.Pop(n.bq).(broadcastEntry)
		item := entry.item

		if advert, ok := item.(wire.Advert); ok {
			advert.Score -= 1 + n.rand.Float64()*0.5
			item = advert
		}

		candidate := append(append([]wire.Item(nil), items...), item)
		encoded, err := wire.Encode(wire.New(candidate))
		if err != nil {
			continue
		}
		if len(items) != 0 && len(encoded) >= wire.BroadcastCapacity {
			log.Debugf("refused %T (+%d bytes)", item, len(encoded)-msgLen)
			heap.Push(n.bq, entry)
			break
		}
		log.Debugf("added %T (+%d bytes)", item, len(encoded)-msgLen)
		items = candidate
		msgBytes = encoded
		msgLen = len(encoded)
	}

	if len(items) > 0 {
		if err := n.transport.Broadcast(msgBytes); err != nil {
			log.WithError(err).Warn("error broadcasting batch")
		} else {
			n.met.BroadcastFlushes.Inc()
			n.met.BroadcastBytes.Add(float64(msgLen))
		}
	}

	n.rescheduleBroadcast()
}

// flushUnicast pops every item destined to the same next-hop as the
// first popped item and sends them as one TCP batch. The network send
// happens with Node.mu released so a slow/unreachable peer cannot stall
// the rest of the node (spec.md §5 "Suspension points").
func (n *Node) flushUnicast() {
	n.mu.Lock()
	log := n.logf("tcp batch")

	type accepted struct {
		deadline time.Time
		client   string
		routes   []RouteEntry
		item     wire.Item
	}
	var batch []accepted
	var rejects []unicastEntry
	var addr Addr
	haveAddr := false

	// Drain the whole queue in one pass, sorting each item into batch
	// (same next hop as the first item seen) or rejects (no route, or a
	// different next hop). Rejects are only put back once the queue is
	// fully drained, so a mismatched next hop can never be re-popped and
	// re-rejected forever within this flush.
	for n.uq.Len() > 0 {
		e := heap.Pop(n.uq).(unicastEntry)

		var peer Addr
		if n.isMain {
			if len(e.routes) == 0 {
				// A routeless entry is always deferred to the next
				// batch, even if a route has since appeared: it missed
				// this round's addressing decision (spec.md §4.G).
				rejects = append(rejects, unicastEntry{
					deadline: e.deadline.Add(DeadlineExt), client: e.client,
					hasTarget: e.hasTarget, routes: n.routes.get(e.client), item: e.item,
				})
				log.Warnf("no route to %s", e.client)
				continue
			}
			peer = e.routes[0].Addr
		} else {
			lb := transport.Loopback(n.dport)
			peer = Addr{Host: lb.IP.String(), Port: lb.Port}
		}

		if !haveAddr {
			addr = peer
			haveAddr = true
			log.Debugf("batch destined to %s", addr)
		}

		if peer == addr {
			batch = append(batch, accepted{deadline: e.deadline, client: e.client, routes: e.routes, item: e.item})
		} else {
			rejects = append(rejects, e)
			log.Debugf("rejected %T, destined to a different peer", e.item)
		}
	}
	for _, r := range rejects {
		heap.Push(n.uq, r)
	}
	n.mu.Unlock()

	if haveAddr && len(batch) > 0 {
		items := make([]wire.Item, len(batch))
		for i, a := range batch {
			items[i] = a.item
		}
		data, err := wire.Encode(wire.New(items))
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), transport.TCPTimeout+transport.DataTimeout)
			err = transport.SendUnicast(ctx, addr.tcpAddr(), data)
			cancel()
		}

		n.mu.Lock()
		if err != nil {
			log.WithError(err).Warnf("unable to contact %s", addr)
			n.met.UnicastRetries.Inc()
			ext := time.Duration(0)
			if !n.isMain {
				ext = DeadlineExt
			}
			for _, a := range batch {
				routes := a.routes
				if len(routes) > 0 {
					routes = routes[1:]
				}
				heap.Push(n.uq, unicastEntry{
					deadline: a.deadline.Add(ext), client: a.client,
					hasTarget: true, routes: routes, item: a.item,
				})
			}
		} else {
			n.met.UnicastFlushes.Inc()
			n.met.UnicastBytes.Add(float64(len(data)))
		}
		n.mu.Unlock()
	}

	n.mu.Lock()
	n.rescheduleUnicast()
	n.mu.Unlock()
}
