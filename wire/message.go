// Package wire implements the compact textual codec used to carry ICN
// protocol messages over UDP and TCP. A Message is a version string and
// a list of Items; each Item is one of peer, advert, get or set, encoded
// with single-letter field keys to help pack more information into
// broadcast datagrams.
package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Version is the protocol version string carried in every Message.
// Messages with any other version are rejected without producing a
// state change.
const Version = "0.2"

// BroadcastCapacity is the soft maximum size in bytes for a batched
// broadcast datagram (less than the usual Ethernet MTU).
const BroadcastCapacity = 512

// MaxScore is the score a client gives itself in its own advert.
const MaxScore = 10000

// Kind discriminates the four item types on the wire.
type Kind string

const (
	KindPeer   Kind = "p"
	KindAdvert Kind = "a"
	KindGet    Kind = "g"
	KindSet    Kind = "s"
)

// ErrBadVersion is returned by Decode when the message version does not
// match Version.
var ErrBadVersion = errors.New("wire: unsupported message version")

// ErrMalformed wraps any decode failure not related to version.
var ErrMalformed = errors.New("wire: malformed message")

// Dst is a forwarding destination: propagate within ttp seconds towards
// client.
type Dst struct {
	TTP    float64 `json:"p"`
	Client string  `json:"c"`
}

// Item is the common interface implemented by every message item.
type Item interface {
	Kind() Kind
}

// Peer announces the sender's end-of-life; absence of further peer
// items after Eol means the sender should be forgotten.
type Peer struct {
	Eol float64 `json:"e"`
}

func (Peer) Kind() Kind { return KindPeer }

// Advert announces a client's identity, published labels, route score,
// propagation budget and end-of-life.
type Advert struct {
	Client string   `json:"c"`
	Labels []string `json:"l"`
	Score  float64  `json:"s"`
	TTP    float64  `json:"p"`
	Eol    float64  `json:"e"`
}

func (Advert) Kind() Kind { return KindAdvert }

// Get expresses interest in data published after After on Label, on
// behalf of Client.
type Get struct {
	Client string  `json:"c"`
	Label  string  `json:"l"`
	After  float64 `json:"a"`
	TTP    float64 `json:"p"`
	Eol    float64 `json:"e"`
}

func (Get) Kind() Kind { return KindGet }

// Set publishes Data (nil if absent) on Label at time At, to be
// forwarded towards every entry in Dst.
type Set struct {
	Label string  `json:"l"`
	Data  *string `json:"d"`
	At    float64 `json:"a"`
	Dst   []Dst   `json:"c"`
}

func (Set) Kind() Kind { return KindSet }

// Message is the structure carried verbatim over UDP and TCP: a version
// tag and an ordered list of items.
type Message struct {
	Version string
	Items   []Item
}

// New builds a Message stamped with the current protocol Version.
func New(items []Item) Message {
	return Message{Version: Version, Items: items}
}

// wireMessage is the top-level wire shape: "v" version, "i" items.
type wireMessage struct {
	V string            `json:"v"`
	I []json.RawMessage `json:"i"`
}

// Encode serializes a Message into its compact transmission form.
func Encode(m Message) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(m.Items))
	for _, it := range m.Items {
		b, err := encodeItem(it)
		if err != nil {
			return nil, errors.Wrap(err, "wire: encode item")
		}
		raws = append(raws, b)
	}
	return json.Marshal(wireMessage{V: Version, I: raws})
}

func encodeItem(it Item) (json.RawMessage, error) {
	switch v := it.(type) {
	case Peer:
		return json.Marshal(struct {
			T string  `json:"t"`
			E float64 `json:"e"`
		}{"p", v.Eol})
	case Advert:
		return json.Marshal(struct {
			T string   `json:"t"`
			C string   `json:"c"`
			L []string `json:"l"`
			S float64  `json:"s"`
			P float64  `json:"p"`
			E float64  `json:"e"`
		}{"a", v.Client, v.Labels, v.Score, v.TTP, v.Eol})
	case Get:
		return json.Marshal(struct {
			T string  `json:"t"`
			C string  `json:"c"`
			L string  `json:"l"`
			A float64 `json:"a"`
			P float64 `json:"p"`
			E float64 `json:"e"`
		}{"g", v.Client, v.Label, v.After, v.TTP, v.Eol})
	case Set:
		return json.Marshal(struct {
			T string  `json:"t"`
			L string  `json:"l"`
			D *string `json:"d"`
			A float64 `json:"a"`
			C []Dst   `json:"c"`
		}{"s", v.Label, v.Data, v.At, v.Dst})
	default:
		return nil, errors.Errorf("wire: unknown item type %T", it)
	}
}

// Decode parses a Message from its transmission form. A version other
// than Version, or any structural problem, is reported as an error and
// must leave the caller's state untouched.
func Decode(data []byte) (Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return Message{}, errors.Wrap(ErrMalformed, err.Error())
	}
	if wm.V != Version {
		return Message{}, ErrBadVersion
	}
	items := make([]Item, 0, len(wm.I))
	for _, raw := range wm.I {
		it, err := decodeItem(raw)
		if err != nil {
			return Message{}, errors.Wrap(ErrMalformed, err.Error())
		}
		items = append(items, it)
	}
	return Message{Version: wm.V, Items: items}, nil
}

func decodeItem(raw json.RawMessage) (Item, error) {
	var disc struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, err
	}
	switch Kind(disc.T) {
	case KindPeer:
		var v struct {
			E float64 `json:"e"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return Peer{Eol: v.E}, nil
	case KindAdvert:
		var v struct {
			C string   `json:"c"`
			L []string `json:"l"`
			S float64  `json:"s"`
			P float64  `json:"p"`
			E float64  `json:"e"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return Advert{Client: v.C, Labels: v.L, Score: v.S, TTP: v.P, Eol: v.E}, nil
	case KindGet:
		var v struct {
			C string  `json:"c"`
			L string  `json:"l"`
			A float64 `json:"a"`
			P float64 `json:"p"`
			E float64 `json:"e"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return Get{Client: v.C, Label: v.L, After: v.A, TTP: v.P, Eol: v.E}, nil
	case KindSet:
		var v struct {
			L string  `json:"l"`
			D *string `json:"d"`
			A float64 `json:"a"`
			C []Dst   `json:"c"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return Set{Label: v.L, Data: v.D, At: v.A, Dst: v.C}, nil
	default:
		return nil, errors.Errorf("wire: unknown item discriminator %q", disc.T)
	}
}
