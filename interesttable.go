package tcdicn

import (
	"time"

	"github.com/Pragatiaboti/tcdicn/internal/timer"
)

// interestEntry is a pending interest in data newer than After on a
// label, on behalf of Client.
type interestEntry struct {
	client string
	after  float64
	ttp    float64
	eol    time.Time
	timer  *timer.Handle
}

// interestTable is map[label]map[client]interestEntry (spec.md §4.F).
// Empty label buckets disappear on the last entry's expiry. Callers
// must hold Node.mu.
type interestTable struct {
	byLabel map[string]map[string]*interestEntry
}

func newInterestTable() *interestTable {
	return &interestTable{byLabel: make(map[string]map[string]*interestEntry)}
}

// accept stores a new or refreshed interest iff eol strictly exceeds
// the stored one.
func (t *interestTable) accept(label, client string, after, ttp float64, eol time.Time, onExpire func(label, client string)) bool {
	bucket, ok := t.byLabel[label]
	if !ok {
		bucket = make(map[string]*interestEntry)
		t.byLabel[label] = bucket
	}
	if existing, ok := bucket[client]; ok {
		if !eol.After(existing.eol) {
			return false
		}
		existing.timer.Cancel()
	}
	entry := &interestEntry{client: client, after: after, ttp: ttp, eol: eol}
	entry.timer = timer.Schedule(eol, func() { onExpire(label, client) })
	bucket[client] = entry
	return true
}

// remove deletes (label, client), dropping the label bucket if it
// becomes empty.
func (t *interestTable) remove(label, client string) {
	bucket, ok := t.byLabel[label]
	if !ok {
		return
	}
	delete(bucket, client)
	if len(bucket) == 0 {
		delete(t.byLabel, label)
	}
}

func (t *interestTable) forLabel(label string) map[string]*interestEntry {
	return t.byLabel[label]
}

func (t *interestTable) hasLabel(label string) bool {
	_, ok := t.byLabel[label]
	return ok
}
