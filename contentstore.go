package tcdicn

import "github.com/Pragatiaboti/tcdicn/wire"

// contentEntry is the content-store cache for one label (spec.md §3
// "Content-store entry"). last is the most recent value a local get()
// has consumed; fulfil, when non-nil and open, is closed to wake every
// local get() waiting on a newer value.
type contentEntry struct {
	data   *string
	at     float64
	last   float64
	dst    []wire.Dst
	fulfil chan struct{}
}

// contentStore is map[label]contentEntry (spec.md §4.F). Callers must
// hold Node.mu.
type contentStore struct {
	byLabel map[string]*contentEntry
}

func newContentStore() *contentStore {
	return &contentStore{byLabel: make(map[string]*contentEntry)}
}

// entry returns the entry for label, creating an empty one if absent.
func (s *contentStore) entry(label string) *contentEntry {
	e, ok := s.byLabel[label]
	if !ok {
		e = &contentEntry{}
		s.byLabel[label] = e
	}
	return e
}

func (s *contentStore) get(label string) (*contentEntry, bool) {
	e, ok := s.byLabel[label]
	return e, ok
}

// waiter returns a channel that closes once label's entry receives data
// newer than its current value, creating the entry and/or the
// completion channel as needed. Safe to call from multiple concurrent
// get() calls on the same label.
func (s *contentStore) waiter(label string) chan struct{} {
	e := s.entry(label)
	if e.fulfil == nil || isClosed(e.fulfil) {
		e.fulfil = make(chan struct{})
	}
	return e.fulfil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// accept replaces label's entry iff at is strictly newer than stored,
// preserving last and any pending waiter, and returns the waiter to
// signal (nil if none was pending).
func (s *contentStore) accept(label string, data *string, at float64, dst []wire.Dst) (accepted bool, toSignal chan struct{}) {
	existing, ok := s.byLabel[label]
	if ok && at <= existing.at {
		return false, nil
	}
	var last float64
	var fulfil chan struct{}
	if ok {
		last = existing.last
		fulfil = existing.fulfil
	}
	s.byLabel[label] = &contentEntry{data: data, at: at, last: last, dst: dst, fulfil: fulfil}
	if fulfil != nil && !isClosed(fulfil) {
		return true, fulfil
	}
	return true, nil
}
