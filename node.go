// Package tcdicn implements a single node in an Information-Centric
// Network: peer discovery and liveness, client advert dissemination and
// route scoring, interest and data propagation with a content store,
// batched UDP/TCP egress, and an optional group confidentiality overlay.
//
// All mutable node state is protected by one mutex so that, regardless
// of how many goroutines receive datagrams, accept connections, fire
// timers, or call the client API concurrently, every mutation of the
// peer/client/route/interest/content/group tables is serialized — the
// single-actor model spec.md §5 requires.
package tcdicn

import (
	"context"
	"crypto/rsa"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Pragatiaboti/tcdicn/groupcrypto"
	"github.com/Pragatiaboti/tcdicn/internal/logctx"
	"github.com/Pragatiaboti/tcdicn/internal/metrics"
	"github.com/Pragatiaboti/tcdicn/transport"
	"github.com/Pragatiaboti/tcdicn/wire"
)

// ErrNotAClient is returned by Get/Set when the node was started without
// a ClientConfig.
var ErrNotAClient = errors.New("tcdicn: only client nodes may get/set")

// ErrNotStarted is returned by calls made before Start has completed
// its setup (e.g. Join before the node is running).
var ErrNotStarted = errors.New("tcdicn: node is not started")

// ClientConfig makes a Node a client: it publishes its own advert and
// may call Get/Set/Join. Key, if set, is a PEM-encoded RSA private key
// used for group invite signing and unwrapping.
type ClientConfig struct {
	Name   string
	TTP    float64
	Labels []string
	Key    []byte
}

// Node is one ICN node. The zero value is not usable; construct with
// New.
type Node struct {
	mu  sync.Mutex
	log *logrus.Logger
	met *metrics.Set

	transport *transport.Transport
	port      int
	dport     int
	isMain    bool
	ttl       time.Duration
	tpf       int

	advert *wire.Advert
	key    *rsa.PrivateKey

	now  func() time.Time
	rand *rand.Rand

	peers     *peerTable
	clients   *clientTable
	routes    *routeTable
	interests *interestTable
	content   *contentStore
	groups    map[string]*Group

	bq *broadcastQueue
	uq *unicastQueue

	wg      sync.WaitGroup
	started bool
}

// Option configures optional Node collaborators (spec.md §1: "a
// random-number source and a wall-clock source are also collaborators").
type Option func(*Node)

// WithClock overrides the wall-clock source used throughout the node,
// for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// WithRand overrides the random source used for route-score
// perturbation at broadcast time (spec.md §4.G).
func WithRand(r *rand.Rand) Option {
	return func(n *Node) { n.rand = r }
}

// WithLogger overrides the logrus logger the node writes to.
func WithLogger(log *logrus.Logger) Option {
	return func(n *Node) { n.log = log }
}

// WithMetrics attaches a metrics.Set the node updates as it runs.
func WithMetrics(m *metrics.Set) Option {
	return func(n *Node) { n.met = m }
}

// New constructs an unstarted Node.
func New(opts ...Option) *Node {
	n := &Node{
		log:       logrus.StandardLogger(),
		met:       metrics.New("tcdicn"),
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		peers:     newPeerTable(),
		clients:   newClientTable(),
		routes:    newRouteTable(),
		interests: newInterestTable(),
		content:   newContentStore(),
		groups:    make(map[string]*Group),
		bq:        newBroadcastQueue(),
		uq:        newUnicastQueue(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Start opens the node's sockets, begins serving, and blocks until ctx
// is cancelled (matching the reference's signal-driven shutdown) or a
// fatal error occurs (socket bind failure). port/dport/ttl/tpf/client
// are the spec.md §6 startup parameters.
func (n *Node) Start(ctx context.Context, port, dport int, ttl time.Duration, tpf int, client *ClientConfig) error {
	n.mu.Lock()
	n.port = port
	n.dport = dport
	n.isMain = port == dport
	n.ttl = ttl
	n.tpf = tpf

	if client != nil {
		n.advert = &wire.Advert{
			Client: client.Name,
			Labels: append([]string(nil), client.Labels...),
			Score:  wire.MaxScore,
			TTP:    client.TTP,
			Eol:    0,
		}
		if len(client.Key) > 0 {
			key, err := groupcrypto.ParsePrivateKey(client.Key)
			if err != nil {
				n.mu.Unlock()
				return err
			}
			n.key = key
		}
	}

	tr, err := transport.Open(port, dport)
	if err != nil {
		n.mu.Unlock()
		return errors.Wrap(err, "tcdicn: start")
	}
	n.transport = tr
	n.started = true
	n.mu.Unlock()

	n.log.WithFields(logrus.Fields{"port": port, "dport": dport, "main": n.isMain}).
		Info("node up and listening")

	n.wg.Add(3)
	go func() { defer n.wg.Done(); n.transport.AcceptLoop(n.onTCP) }()
	go func() { defer n.wg.Done(); n.transport.ReceiveLoop(n.onUDP) }()
	go func() { defer n.wg.Done(); n.regularBroadcastLoop(ctx) }()

	<-ctx.Done()
	n.log.Info("shutting down...")
	n.shutdown()
	n.wg.Wait()
	n.log.Info("goodbye :)")
	return nil
}

// shutdown releases sockets and cancels every group invite task.
func (n *Node) shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.transport != nil {
		n.transport.Close()
	}
	for _, g := range n.groups {
		g.cancelTasks()
	}
}

func (n *Node) onUDP(addr *net.UDPAddr, data []byte) {
	n.handleMessage(Addr{Host: addr.IP.String(), Port: addr.Port}, data)
}

func (n *Node) onTCP(addr *net.TCPAddr, data []byte) {
	n.handleMessage(Addr{Host: addr.IP.String(), Port: addr.Port}, data)
}

func (n *Node) logf(component string) *logrus.Entry {
	return logctx.New(n.log, component)
}
