package tcdicn

import (
	"testing"
	"time"
)

func TestPeerTableRefreshAndExpire(t *testing.T) {
	pt := newPeerTable()
	addr := Addr{Host: "10.0.0.1", Port: 1}

	expired := make(chan Addr, 1)
	pt.refresh(addr, time.Now().Add(20*time.Millisecond), func(a Addr) { expired <- a })
	if !pt.has(addr) {
		t.Fatal("peer not present after refresh")
	}

	select {
	case got := <-expired:
		if got != addr {
			t.Fatalf("expired %v, want %v", got, addr)
		}
	case <-time.After(time.Second):
		t.Fatal("expiry callback did not fire")
	}
}

func TestPeerTableRefreshCancelsPreviousTimer(t *testing.T) {
	pt := newPeerTable()
	addr := Addr{Host: "10.0.0.1", Port: 1}

	fired := make(chan struct{}, 2)
	pt.refresh(addr, time.Now().Add(20*time.Millisecond), func(Addr) { fired <- struct{}{} })
	pt.refresh(addr, time.Now().Add(100*time.Millisecond), func(Addr) { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatal("first (superseded) timer fired")
	case <-time.After(40 * time.Millisecond):
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("second timer never fired")
	}
}

func TestPeerTableRemove(t *testing.T) {
	pt := newPeerTable()
	addr := Addr{Host: "10.0.0.1", Port: 1}
	pt.refresh(addr, time.Now().Add(time.Hour), func(Addr) {})
	pt.remove(addr)
	if pt.has(addr) {
		t.Fatal("peer still present after remove")
	}
}
