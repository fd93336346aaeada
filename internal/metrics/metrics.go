// Package metrics exposes the node's Prometheus instrumentation. The
// embedder decides whether and where to serve it (the core never opens
// its own metrics HTTP endpoint); MustRegister attaches these collectors to
// whichever *prometheus.Registry the embedder already runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set is the collection of collectors a Node updates as it runs.
type Set struct {
	PeersExpired      prometheus.Counter
	ClientsExpired    prometheus.Counter
	InterestsExpired  prometheus.Counter
	AdvertsEnqueued    prometheus.Counter
	GetsEnqueued      prometheus.Counter
	SetsEnqueued      prometheus.Counter
	BroadcastFlushes  prometheus.Counter
	UnicastFlushes    prometheus.Counter
	BroadcastBytes    prometheus.Counter
	UnicastBytes      prometheus.Counter
	UnicastRetries    prometheus.Counter
	QueueDepth        *prometheus.GaugeVec
}

// New builds a fresh instrumentation set with the given namespace.
func New(namespace string) *Set {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help,
		})
	}
	return &Set{
		PeersExpired:     counter("peers_expired_total", "Peers removed on EOL timeout."),
		ClientsExpired:   counter("clients_expired_total", "Client adverts removed on EOL timeout."),
		InterestsExpired: counter("interests_expired_total", "Interests removed on EOL timeout."),
		AdvertsEnqueued:  counter("adverts_enqueued_total", "Adverts pushed onto the broadcast queue."),
		GetsEnqueued:     counter("gets_enqueued_total", "Get items pushed onto the unicast queue."),
		SetsEnqueued:     counter("sets_enqueued_total", "Set items pushed onto the unicast queue."),
		BroadcastFlushes: counter("broadcast_flushes_total", "UDP batch flushes performed."),
		UnicastFlushes:   counter("unicast_flushes_total", "TCP batch flushes performed."),
		BroadcastBytes:   counter("broadcast_bytes_total", "Bytes sent via UDP broadcast."),
		UnicastBytes:     counter("unicast_bytes_total", "Bytes sent via TCP unicast."),
		UnicastRetries:   counter("unicast_retries_total", "Unicast batches requeued after a transport failure."),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Pending items per batch queue.",
		}, []string{"queue"}),
	}
}

// MustRegister registers every collector in the set against reg.
func (s *Set) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		s.PeersExpired, s.ClientsExpired, s.InterestsExpired,
		s.AdvertsEnqueued, s.GetsEnqueued, s.SetsEnqueued,
		s.BroadcastFlushes, s.UnicastFlushes,
		s.BroadcastBytes, s.UnicastBytes, s.UnicastRetries,
		s.QueueDepth,
	)
}
