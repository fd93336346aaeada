package wire

import "testing"

func ptr(s string) *string { return &s }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	items := []Item{
		Peer{Eol: 123.5},
		Advert{Client: "alice", Labels: []string{"t", "u"}, Score: MaxScore, TTP: 1.5, Eol: 999.0},
		Get{Client: "bob", Label: "t", After: 10, TTP: 1, Eol: 1000},
		Set{Label: "t", Data: ptr("hello"), At: 42, Dst: []Dst{{TTP: 1, Client: "bob"}}},
		Set{Label: "t", Data: nil, At: 43, Dst: nil},
	}
	msg := New(items)

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != Version {
		t.Fatalf("version = %q, want %q", got.Version, Version)
	}
	if len(got.Items) != len(items) {
		t.Fatalf("got %d items, want %d", len(got.Items), len(items))
	}
	for i, it := range got.Items {
		if it.Kind() != items[i].Kind() {
			t.Errorf("item %d: kind = %v, want %v", i, it.Kind(), items[i].Kind())
		}
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	_, err := Decode([]byte(`{"v":"0.1","i":[]}`))
	if err != ErrBadVersion {
		t.Fatalf("err = %v, want ErrBadVersion", err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	if err == nil {
		t.Fatal("expected an error decoding malformed input")
	}
}

func TestDecodeRejectsUnknownDiscriminator(t *testing.T) {
	_, err := Decode([]byte(`{"v":"0.2","i":[{"t":"z"}]}`))
	if err == nil {
		t.Fatal("expected an error decoding an unknown item kind")
	}
}

func TestBroadcastCapacityBound(t *testing.T) {
	data, err := Encode(New([]Item{Advert{Client: "x", Score: MaxScore, TTP: 1, Eol: 1}}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) >= BroadcastCapacity {
		t.Fatalf("single-item advert encoded to %d bytes, expected well under the %d cap", len(data), BroadcastCapacity)
	}
}
