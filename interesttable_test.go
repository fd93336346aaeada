package tcdicn

import (
	"testing"
	"time"
)

func TestInterestTableAcceptAndExpire(t *testing.T) {
	it := newInterestTable()
	now := time.Now()

	expired := make(chan [2]string, 1)
	ok := it.accept("t", "bob", 0, 1, now.Add(20*time.Millisecond), func(label, client string) {
		expired <- [2]string{label, client}
	})
	if !ok {
		t.Fatal("first interest should be accepted")
	}
	if !it.hasLabel("t") {
		t.Fatal("label bucket should exist after accept")
	}

	select {
	case got := <-expired:
		if got != [2]string{"t", "bob"} {
			t.Fatalf("expired (%v), want (t, bob)", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expiry did not fire")
	}
}

func TestInterestTableRemoveDropsEmptyBucket(t *testing.T) {
	it := newInterestTable()
	it.accept("t", "bob", 0, 1, time.Now().Add(time.Hour), func(string, string) {})
	it.remove("t", "bob")
	if it.hasLabel("t") {
		t.Fatal("label bucket should disappear once its last client is removed")
	}
}

func TestInterestTableAcceptRejectsOlderEOL(t *testing.T) {
	it := newInterestTable()
	now := time.Now()
	it.accept("t", "bob", 0, 1, now.Add(time.Hour), func(string, string) {})
	ok := it.accept("t", "bob", 5, 1, now.Add(time.Minute), func(string, string) {})
	if ok {
		t.Fatal("interest with an earlier eol should be rejected")
	}
}
