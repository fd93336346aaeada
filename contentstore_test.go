package tcdicn

import "testing"

func TestContentStoreAcceptMonotonic(t *testing.T) {
	cs := newContentStore()
	data := "v1"

	accepted, _ := cs.accept("t", &data, 10, nil)
	if !accepted {
		t.Fatal("first set should be accepted")
	}

	older := "v0"
	accepted, _ = cs.accept("t", &older, 5, nil)
	if accepted {
		t.Fatal("set with at <= stored.at should be rejected")
	}

	newer := "v2"
	accepted, _ = cs.accept("t", &newer, 11, nil)
	if !accepted {
		t.Fatal("strictly newer at should be accepted")
	}
	entry, ok := cs.get("t")
	if !ok || *entry.data != "v2" {
		t.Fatalf("stored entry = %+v, want data v2", entry)
	}
}

func TestContentStoreWaiterSignalsOnAccept(t *testing.T) {
	cs := newContentStore()
	waiter := cs.waiter("t")

	data := "v1"
	_, toSignal := cs.accept("t", &data, 10, nil)
	if toSignal == nil {
		t.Fatal("accept should return the pending waiter to signal")
	}
	close(toSignal)

	select {
	case <-waiter:
	default:
		t.Fatal("waiter channel should be closed")
	}
}

func TestContentStorePreservesLastAcrossAccept(t *testing.T) {
	cs := newContentStore()
	data := "v1"
	cs.accept("t", &data, 10, nil)

	entry, _ := cs.get("t")
	entry.last = 10

	data2 := "v2"
	cs.accept("t", &data2, 20, nil)
	entry, _ = cs.get("t")
	if entry.last != 10 {
		t.Fatalf("last = %v, want preserved 10", entry.last)
	}
}
