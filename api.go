package tcdicn

import (
	"context"
	"time"

	"github.com/Pragatiaboti/tcdicn/wire"
)

// regularBroadcastLoop is the node's heartbeat: every ttl/tpf seconds it
// enqueues a fresh peer item (and, for client nodes, its own advert with
// an updated EOL) onto the broadcast queue (spec.md §4.H "Regular
// broadcast"). It runs until ctx is cancelled.
func (n *Node) regularBroadcastLoop(ctx context.Context) {
	n.mu.Lock()
	interval := time.Duration(float64(n.ttl) / float64(n.tpf))
	n.mu.Unlock()
	if interval <= 0 {
		interval = time.Second
	}

	beat := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		eol := n.now().Add(n.ttl)
		n.enqueueBroadcast(wire.Peer{Eol: timeToEpoch(eol)}, n.now())
		if n.advert != nil {
			a := *n.advert
			a.Eol = timeToEpoch(eol)
			n.enqueueBroadcast(a, n.now().Add(durationFromSeconds(a.TTP)))
		}
		n.rescheduleBroadcast()
	}

	beat()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

// Get issues an interest on label and blocks until data published after
// its current value arrives, reissuing the interest every ttl/tpf
// seconds to keep it alive (spec.md §4.H "Client API"). If group is set,
// the label is namespaced and the returned data is symmetrically
// decrypted under the group's current key.
func (n *Node) Get(ctx context.Context, label string, ttl time.Duration, tpf int, ttp float64, group *string) (string, error) {
	n.mu.Lock()
	if n.advert == nil {
		n.mu.Unlock()
		return "", ErrNotAClient
	}
	if !n.started {
		n.mu.Unlock()
		return "", ErrNotStarted
	}
	wireLabel := label
	if group != nil {
		wireLabel = *group + "//" + label
	}
	client := n.advert.Client

	// A new value may already be sitting in the content store (e.g. a
	// set arrived with no local get() waiting on it yet): return it
	// immediately instead of subscribing and blocking for the next one.
	entry := n.content.entry(wireLabel)
	if entry.at > entry.last {
		data := entry.data
		entry.last = entry.at
		n.mu.Unlock()
		if data != nil {
			if plain, ok, err := decodeGetResult(n, group, *data); ok {
				return plain, err
			}
		}
		n.mu.Lock()
	}

	last := n.content.entry(wireLabel).last
	waiter := n.content.waiter(wireLabel)
	n.mu.Unlock()

	interval := time.Duration(float64(ttl) / float64(tpf))
	if interval <= 0 {
		interval = time.Second
	}

	issue := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		eol := n.now().Add(ttl)
		g := wire.Get{Client: client, Label: wireLabel, After: last, TTP: ttp, Eol: timeToEpoch(eol)}
		if n.onGet(g) {
			n.rescheduleUnicast()
		}
	}

	issue()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			issue()
		case <-waiter:
			n.mu.Lock()
			entry, _ := n.content.get(wireLabel)
			var data *string
			if entry != nil {
				data = entry.data
				last = entry.at
				entry.last = entry.at
			}
			waiter = n.content.waiter(wireLabel)
			n.mu.Unlock()
			if data == nil {
				continue
			}
			if plain, ok, err := decodeGetResult(n, group, *data); ok {
				return plain, err
			}
		}
	}
}

// decodeGetResult decrypts data under group's key when group is set,
// returning ok=false when decryption fails so the caller keeps waiting
// for the next value instead of returning a decode error.
func decodeGetResult(n *Node, group *string, data string) (plain string, ok bool, err error) {
	if group == nil {
		return data, true, nil
	}
	plain, err = n.decryptGroupPayload(*group, data)
	if err != nil {
		n.logf("group").WithError(err).Debug("group decrypt failed, retrying")
		return "", false, nil
	}
	return plain, true, nil
}

// Set publishes data on label, optionally encrypted under the named
// group's current key, delivering it locally to on_set with dst set to
// the current interest list for the (possibly namespaced) label (spec.md
// §4.H "Client API").
func (n *Node) Set(label, data string, group *string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.advert == nil {
		return ErrNotAClient
	}
	if !n.started {
		return ErrNotStarted
	}

	wireLabel := label
	payload := data
	if group != nil {
		encrypted, err := n.encryptGroupPayload(*group, data)
		if err != nil {
			return err
		}
		payload = encrypted
		wireLabel = *group + "//" + label
	}

	var dsts []wire.Dst
	for client, interest := range n.interests.forLabel(wireLabel) {
		dsts = append(dsts, wire.Dst{TTP: interest.ttp, Client: client})
	}

	s := wire.Set{Label: wireLabel, Data: &payload, At: timeToEpoch(n.now()), Dst: dsts}
	if n.onSet(s) {
		n.rescheduleUnicast()
	}
	return nil
}
