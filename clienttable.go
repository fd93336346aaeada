package tcdicn

import (
	"sort"
	"time"

	"github.com/Pragatiaboti/tcdicn/internal/timer"
)

// clientEntry is a known client advert plus its eviction timer.
type clientEntry struct {
	client string
	labels []string
	score  float64
	ttp    float64
	eol    time.Time
	timer  *timer.Handle
}

// RouteEntry is one scored next-hop for a client, sorted descending by
// score within a routeTable entry.
type RouteEntry struct {
	Addr  Addr
	Score float64
}

// clientTable tracks known client adverts (spec.md §3 "Client advert"
// and §4.F "Advert... store"). Callers must hold Node.mu.
type clientTable struct {
	clients map[string]*clientEntry
}

func newClientTable() *clientTable {
	return &clientTable{clients: make(map[string]*clientEntry)}
}

func (t *clientTable) get(client string) (*clientEntry, bool) {
	e, ok := t.clients[client]
	return e, ok
}

// accept stores a new or refreshed advert iff eol strictly exceeds the
// stored one, returning the previous label set (nil if new) and whether
// it was accepted.
func (t *clientTable) accept(client string, labels []string, score, ttp float64, eol time.Time, onExpire func(string)) ([]string, bool) {
	existing, ok := t.clients[client]
	if ok {
		if !eol.After(existing.eol) {
			return nil, false
		}
		existing.timer.Cancel()
	}
	entry := &clientEntry{client: client, labels: labels, score: score, ttp: ttp, eol: eol}
	entry.timer = timer.Schedule(eol, func() { onExpire(client) })
	t.clients[client] = entry
	if ok {
		return existing.labels, true
	}
	return nil, true
}

func (t *clientTable) remove(client string) {
	delete(t.clients, client)
}

func (t *clientTable) list() map[string]*clientEntry {
	return t.clients
}

// routeTable maintains a scored next-hop list per client (spec.md §3
// "Route" and §4.E). Callers must hold Node.mu.
type routeTable struct {
	routes map[string][]RouteEntry
}

func newRouteTable() *routeTable {
	return &routeTable{routes: make(map[string][]RouteEntry)}
}

// upsert updates or inserts {addr, score} for client, keeping the list
// sorted descending by score.
func (t *routeTable) upsert(client string, addr Addr, score float64) {
	list := t.routes[client]
	for i := range list {
		if list[i].Addr == addr {
			list[i].Score = score
			t.sort(client)
			return
		}
	}
	t.routes[client] = append(list, RouteEntry{Addr: addr, Score: score})
	t.sort(client)
}

func (t *routeTable) sort(client string) {
	list := t.routes[client]
	sort.SliceStable(list, func(i, j int) bool { return list[i].Score > list[j].Score })
}

func (t *routeTable) get(client string) []RouteEntry {
	return t.routes[client]
}

func (t *routeTable) remove(client string) {
	delete(t.routes, client)
}

// removeNextHop deletes the entry for addr from every client's route
// list, as happens when a peer expires (spec.md §3 "Destruction also
// removes every route entry whose next-hop is this address.").
func (t *routeTable) removeNextHop(addr Addr) {
	for client, list := range t.routes {
		for i, r := range list {
			if r.Addr == addr {
				t.routes[client] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}
