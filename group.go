package tcdicn

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/Pragatiaboti/tcdicn/groupcrypto"
	"github.com/Pragatiaboti/tcdicn/wire"
)

// ErrNoGroupKey is returned by Set when a group has no current symmetric
// key yet to encrypt under.
var ErrNoGroupKey = errors.New("tcdicn: group has no current key yet")

// Group is one group confidentiality overlay membership (spec.md §3
// "Group"). Caller holds Node.mu for every field access.
type Group struct {
	name            string
	labels          []string
	encryptedLabels []string
	keys            map[string]*rsa.PublicKey
	rawKey          []byte
	at              time.Time
	cancels         []context.CancelFunc
}

// cancelTasks stops every invite-consume loop spawned for this group
// (spec.md §5 "on process shutdown... cancels every group invite task").
func (g *Group) cancelTasks() {
	for _, cancel := range g.cancels {
		cancel()
	}
	g.cancels = nil
}

// inviteEnvelope is the signed wire shape published under
// group+"/"+client (spec.md §4.I step 3).
type inviteEnvelope struct {
	D string `json:"d"`
	S string `json:"s"`
}

// inviteInner is the signed payload inside an inviteEnvelope.
type inviteInner struct {
	At      float64           `json:"at"`
	Invites map[string]string `json:"invites"`
}

// Join establishes or extends group membership with peerClient (spec.md
// §4.I). It publishes an invite immediately, then spawns a background
// loop that keeps consuming peerClient's invites until ctx is cancelled
// or the node shuts down.
func (n *Node) Join(ctx context.Context, group, peerClient string, peerPublicKey []byte, labels []string, ttl time.Duration, tpf int, ttp float64) error {
	n.mu.Lock()
	if n.advert == nil {
		n.mu.Unlock()
		return ErrNotAClient
	}
	if !n.started {
		n.mu.Unlock()
		return ErrNotStarted
	}
	if n.key == nil {
		n.mu.Unlock()
		return errors.New("tcdicn: join requires a client signing key")
	}
	pub, err := groupcrypto.ParsePublicKey(peerPublicKey)
	if err != nil {
		n.mu.Unlock()
		return err
	}

	g, ok := n.groups[group]
	if !ok {
		g = &Group{name: group, labels: append([]string(nil), labels...), keys: make(map[string]*rsa.PublicKey)}
		n.groups[group] = g
		n.advert.Labels = append(n.advert.Labels, group+"/"+n.advert.Client)
	}
	g.keys[peerClient] = pub

	if err := n.publishInviteLocked(g, ttp); err != nil {
		n.mu.Unlock()
		return err
	}
	n.mu.Unlock()

	gCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	g.cancels = append(g.cancels, cancel)
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.consumeInviteLoop(gCtx, group, peerClient, ttl, tpf, ttp)
	}()
	return nil
}

// publishInviteLocked signs and publishes the current invite envelope
// for group under label group+"/"+own-client. Caller holds Node.mu.
func (n *Node) publishInviteLocked(g *Group, ttp float64) error {
	inner := inviteInner{At: timeToEpoch(g.at), Invites: make(map[string]string)}
	for member, pub := range g.keys {
		if g.rawKey == nil {
			continue
		}
		wrapped, err := groupcrypto.Wrap(pub, g.rawKey)
		if err != nil {
			return errors.Wrap(err, "tcdicn: wrap group key for invite")
		}
		inner.Invites[member] = base64.StdEncoding.EncodeToString(wrapped)
	}

	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return errors.Wrap(err, "tcdicn: encode invite")
	}
	sig, err := groupcrypto.Sign(n.key, innerJSON)
	if err != nil {
		return errors.Wrap(err, "tcdicn: sign invite")
	}
	env := inviteEnvelope{D: base64.StdEncoding.EncodeToString(innerJSON), S: base64.StdEncoding.EncodeToString(sig)}
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "tcdicn: encode invite envelope")
	}
	payloadStr := string(payload)

	label := g.name + "/" + n.advert.Client
	var dsts []wire.Dst
	for client, interest := range n.interests.forLabel(label) {
		dsts = append(dsts, wire.Dst{TTP: interest.ttp, Client: client})
	}
	s := wire.Set{Label: label, Data: &payloadStr, At: timeToEpoch(n.now()), Dst: dsts}
	if n.onSet(s) {
		n.rescheduleUnicast()
	}
	return nil
}

// consumeInviteLoop repeatedly requests invites published by peerClient
// under group+"/"+peerClient and processes each new one (spec.md §4.I
// step 6).
func (n *Node) consumeInviteLoop(ctx context.Context, group, peerClient string, ttl time.Duration, tpf int, ttp float64) {
	label := group + "/" + peerClient

	n.mu.Lock()
	client := n.advert.Client

	// The peer's invite may already be sitting in the content store
	// (e.g. published before this loop started watching it): consume it
	// immediately instead of waiting on the first subscribe round trip.
	var pending *string
	entry := n.content.entry(label)
	if entry.at > entry.last {
		pending = entry.data
		entry.last = entry.at
	}
	last := n.content.entry(label).last
	waiter := n.content.waiter(label)
	n.mu.Unlock()

	if pending != nil {
		n.handleInvite(group, peerClient, *pending, ttp)
	}

	interval := time.Duration(float64(ttl) / float64(tpf))
	if interval <= 0 {
		interval = time.Second
	}

	issue := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		eol := n.now().Add(ttl)
		g := wire.Get{Client: client, Label: label, After: last, TTP: ttp, Eol: timeToEpoch(eol)}
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
			return
		case <-ticker.C:
			issue()
		case <-waiter:
			n.mu.Lock()
			entry, _ := n.content.get(label)
			var data *string
			if entry != nil {
				data = entry.data
				last = entry.at
				entry.last = entry.at
			}
			waiter = n.content.waiter(label)
			n.mu.Unlock()
			if data != nil {
				n.handleInvite(group, peerClient, *data, ttp)
			}
		}
	}
}

// handleInvite verifies and applies one invite payload published by
// peerClient (spec.md §4.I step 4).
func (n *Node) handleInvite(group, peerClient, payload string, ttp float64) {
	n.mu.Lock()
	g, ok := n.groups[group]
	var pub *rsa.PublicKey
	if ok {
		pub, ok = g.keys[peerClient]
	}
	n.mu.Unlock()
	if !ok {
		return
	}

	var env inviteEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		n.logf("group").WithError(err).Warn("malformed invite envelope")
		return
	}
	innerJSON, err := base64.StdEncoding.DecodeString(env.D)
	if err != nil {
		return
	}
	sig, err := base64.StdEncoding.DecodeString(env.S)
	if err != nil {
		return
	}
	if !groupcrypto.Verify(pub, sig, innerJSON) {
		n.logf("group").Warn("invite signature verification failed")
		return
	}
	var inner inviteInner
	if err := json.Unmarshal(innerJSON, &inner); err != nil {
		return
	}
	incomingAt := epochToTime(inner.At)

	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok = n.groups[group]
	if !ok {
		return
	}

	switch {
	case g.at.IsZero() && incomingAt.IsZero():
		key, err := groupcrypto.GenerateKey()
		if err != nil {
			n.logf("group").WithError(err).Warn("generating group key")
			return
		}
		g.rawKey = key
		// Keep at in wire (float epoch) precision so the copy a member
		// reads back from an invite compares equal to ours.
		g.at = epochToTime(timeToEpoch(n.now()))
	case incomingAt.After(g.at):
		wrapped, ok := inner.Invites[n.advert.Client]
		if !ok {
			return
		}
		ciphertext, err := base64.StdEncoding.DecodeString(wrapped)
		if err != nil {
			return
		}
		raw, err := groupcrypto.Unwrap(n.key, ciphertext)
		if err != nil {
			n.logf("group").WithError(err).Warn("unwrap group key failed")
			return
		}
		g.rawKey = raw
		g.at = incomingAt
	default:
		return
	}

	n.rewriteGroupLabelsLocked(g)
	if err := n.publishInviteLocked(g, ttp); err != nil {
		n.logf("group").WithError(err).Warn("republishing invite after key change")
	}
}

// rewriteGroupLabelsLocked drops the group's previously-advertised
// encrypted labels and republishes group+"//"+label for every label in
// its registered label set, per the key-rotation step of spec.md §4.I
// step 5. Caller holds Node.mu.
func (n *Node) rewriteGroupLabelsLocked(g *Group) {
	old := make(map[string]bool, len(g.encryptedLabels))
	for _, l := range g.encryptedLabels {
		old[l] = true
	}
	kept := n.advert.Labels[:0:0]
	for _, l := range n.advert.Labels {
		if !old[l] {
			kept = append(kept, l)
		}
	}
	fresh := make([]string, 0, len(g.labels))
	for _, l := range g.labels {
		fresh = append(fresh, g.name+"//"+l)
	}
	n.advert.Labels = append(kept, fresh...)
	g.encryptedLabels = fresh
}

// encryptGroupPayload encrypts data under group's current key. Label
// encryption itself is intentionally namespace-only (spec.md §4.I "Open
// issue"): only the data payload is confidential, the label is not.
func (n *Node) encryptGroupPayload(group, data string) (string, error) {
	g, ok := n.groups[group]
	if !ok || g.rawKey == nil {
		return "", ErrNoGroupKey
	}
	token, err := groupcrypto.Seal(g.rawKey, []byte(data))
	if err != nil {
		return "", errors.Wrap(err, "tcdicn: encrypt group payload")
	}
	return base64.StdEncoding.EncodeToString(token), nil
}

// decryptGroupPayload reverses encryptGroupPayload. A decryption failure
// is treated as retryable (spec.md §7 "Cryptographic" error kind), not
// as a hard error.
func (n *Node) decryptGroupPayload(group, encoded string) (string, error) {
	n.mu.Lock()
	g, ok := n.groups[group]
	var rawKey []byte
	if ok {
		rawKey = g.rawKey
	}
	n.mu.Unlock()
	if !ok || rawKey == nil {
		return "", ErrNoGroupKey
	}
	token, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrap(err, "tcdicn: decode group payload")
	}
	plain, err := groupcrypto.Open(rawKey, token)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
