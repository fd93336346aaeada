package tcdicn

import (
	"time"

	"github.com/Pragatiaboti/tcdicn/wire"
)

// epochToTime converts a wire float64 (seconds since the Unix epoch, as
// Python's time.time() produces) to a time.Time.
func epochToTime(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}

// timeToEpoch is epochToTime's inverse.
func timeToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func durationFromSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// handleMessage decodes one datagram or TCP stream's payload and
// dispatches its items in the fixed order peer → advert → get → set
// (spec.md §4.H), so that routes are known before gets/sets referencing
// them are processed. A single batch reschedule happens at the end,
// matching the reference's per-message queue-changed flags.
func (n *Node) handleMessage(from Addr, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		n.logf("protocol").WithError(err).Warnf("dropping malformed message from %s", from)
		return
	}

	var peers, adverts, gets, sets []wire.Item
	for _, it := range msg.Items {
		switch it.(type) {
		case wire.Peer:
			peers = append(peers, it)
		case wire.Advert:
			adverts = append(adverts, it)
		case wire.Get:
			gets = append(gets, it)
		case wire.Set:
			sets = append(sets, it)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	bqDirty, uqDirty := false, false
	for _, it := range peers {
		n.onPeer(from, it.(wire.Peer))
	}
	for _, it := range adverts {
		bq, uq := n.onAdvert(from, it.(wire.Advert))
		bqDirty = bqDirty || bq
		uqDirty = uqDirty || uq
	}
	for _, it := range gets {
		if n.onGet(it.(wire.Get)) {
			uqDirty = true
		}
	}
	for _, it := range sets {
		if n.onSet(it.(wire.Set)) {
			uqDirty = true
		}
	}

	if bqDirty {
		n.rescheduleBroadcast()
	}
	if uqDirty {
		n.rescheduleUnicast()
	}
}

// onPeer refreshes or creates the sender's peer entry (spec.md §4.D).
// Caller holds Node.mu.
func (n *Node) onPeer(from Addr, p wire.Peer) {
	n.peers.refresh(from, epochToTime(p.Eol), n.onPeerExpire)
}

// onPeerExpire is the peer table's eviction callback; it fires from the
// timer goroutine and must take Node.mu itself.
func (n *Node) onPeerExpire(addr Addr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers.remove(addr)
	n.routes.removeNextHop(addr)
	n.met.PeersExpired.Inc()
}

// onClientExpire is the client table's eviction callback.
func (n *Node) onClientExpire(client string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clients.remove(client)
	n.routes.remove(client)
	n.met.ClientsExpired.Inc()
}

// onInterestExpire is the interest table's eviction callback.
func (n *Node) onInterestExpire(label, client string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interests.remove(label, client)
	n.met.InterestsExpired.Inc()
}

// isSelf reports whether client is this node's own advertised client
// name (spec.md §8 "Self-ignore").
func (n *Node) isSelf(client string) bool {
	return n.advert != nil && n.advert.Client == client
}

// onAdvert implements spec.md §4.H on_advert. Caller holds Node.mu.
func (n *Node) onAdvert(from Addr, a wire.Advert) (bqDirty, uqDirty bool) {
	if !n.peers.has(from) {
		n.peers.refresh(from, epochToTime(a.Eol), n.onPeerExpire)
	}
	if n.isSelf(a.Client) {
		return false, false
	}

	n.routes.upsert(a.Client, from, a.Score)

	prevLabels, accepted := n.clients.accept(a.Client, a.Labels, a.Score, a.TTP, epochToTime(a.Eol), n.onClientExpire)
	if !accepted {
		return false, false
	}

	prevSet := make(map[string]bool, len(prevLabels))
	for _, l := range prevLabels {
		prevSet[l] = true
	}
	for _, label := range a.Labels {
		if prevSet[label] {
			continue
		}
		interests := n.interests.forLabel(label)
		for client, interest := range interests {
			g := wire.Get{Client: client, Label: label, After: interest.after, TTP: interest.ttp, Eol: timeToEpoch(interest.eol)}
			n.enqueueUnicast(a.Client, true, n.routes.get(a.Client), g, n.now().Add(durationFromSeconds(interest.ttp)))
			uqDirty = true
		}
	}

	n.enqueueBroadcast(a, n.now().Add(durationFromSeconds(a.TTP)))
	return true, uqDirty
}

// onGet implements spec.md §4.H on_get. Caller holds Node.mu.
func (n *Node) onGet(g wire.Get) (uqDirty bool) {
	accepted := n.interests.accept(g.Label, g.Client, g.After, g.TTP, epochToTime(g.Eol), n.onInterestExpire)
	if !accepted {
		return false
	}

	deadline := n.now().Add(durationFromSeconds(g.TTP))
	for client, entry := range n.clients.list() {
		if n.isSelf(client) {
			continue
		}
		for _, label := range entry.labels {
			if label == g.Label {
				n.enqueueUnicast(client, true, n.routes.get(client), g, deadline)
				uqDirty = true
				break
			}
		}
	}

	if !n.isMain {
		n.enqueueUnicast("", false, nil, g, deadline)
		uqDirty = true
	}

	if entry, ok := n.content.get(g.Label); ok && entry.at > g.After {
		set := wire.Set{Label: g.Label, Data: entry.data, At: entry.at, Dst: []wire.Dst{{TTP: g.TTP, Client: g.Client}}}
		n.enqueueUnicast(g.Client, true, n.routes.get(g.Client), set, deadline)
		uqDirty = true
	}

	return uqDirty
}

// onSet implements spec.md §4.H on_set. Caller holds Node.mu.
func (n *Node) onSet(s wire.Set) (uqDirty bool) {
	accepted, toSignal := n.content.accept(s.Label, s.Data, s.At, s.Dst)
	if !accepted {
		return false
	}
	if toSignal != nil {
		close(toSignal)
	}

	for _, dst := range s.Dst {
		if n.isSelf(dst.Client) {
			continue
		}
		clone := wire.Set{Label: s.Label, Data: s.Data, At: s.At, Dst: []wire.Dst{dst}}
		deadline := n.now().Add(durationFromSeconds(dst.TTP))
		n.enqueueUnicast(dst.Client, true, n.routes.get(dst.Client), clone, deadline)
		uqDirty = true
	}
	return uqDirty
}
