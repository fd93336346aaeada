package tcdicn

import (
	"time"

	"github.com/Pragatiaboti/tcdicn/internal/timer"
)

// peerEntry is a live peer: the EOL it last advertised, and the timer
// that will evict it.
type peerEntry struct {
	eol   time.Time
	timer *timer.Handle
}

// peerTable tracks live peers keyed by address, as spec.md §4.D.
// Callers must hold Node.mu.
type peerTable struct {
	peers map[Addr]*peerEntry
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[Addr]*peerEntry)}
}

func (t *peerTable) has(addr Addr) bool {
	_, ok := t.peers[addr]
	return ok
}

// refresh inserts or refreshes addr's EOL, cancelling any previous
// timer and installing a new one that calls onExpire(addr) once fired.
func (t *peerTable) refresh(addr Addr, eol time.Time, onExpire func(Addr)) {
	if existing, ok := t.peers[addr]; ok {
		existing.timer.Cancel()
	}
	entry := &peerEntry{eol: eol}
	entry.timer = timer.Schedule(eol, func() { onExpire(addr) })
	t.peers[addr] = entry
}

// remove deletes addr unconditionally, e.g. on its timer firing.
func (t *peerTable) remove(addr Addr) {
	delete(t.peers, addr)
}

func (t *peerTable) list() map[Addr]*peerEntry {
	return t.peers
}
