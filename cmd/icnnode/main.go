// Command icnnode runs a single tcdicn node: peer discovery, advert
// dissemination, and optional get/set demo operations driven by
// flags. It is a thin embedder over the tcdicn package — process-level
// configuration loading and richer UIs are explicitly out of scope for
// the core (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"net/http"

	"github.com/Pragatiaboti/tcdicn"
	"github.com/Pragatiaboti/tcdicn/internal/metrics"
)

func main() {
	port := flag.Int("port", 33333, "local listen port (TCP+UDP)")
	dport := flag.Int("dport", 33333, "discovery port; port==dport makes this the main node")
	ttl := flag.Duration("ttl", 30*time.Second, "seconds until this node expires if silent")
	tpf := flag.Int("tpf", 3, "heartbeats per ttl")

	clientName := flag.String("client", "", "client name; empty disables the client API")
	labels := flag.String("labels", "", "comma-separated published labels")
	ttp := flag.Float64("ttp", 1, "client advert propagation budget, seconds")

	get := flag.String("get", "", "label to get() once at startup and print")
	set := flag.String("set", "", "label to set(), paired with -data")
	data := flag.String("data", "", "data to publish with -set")

	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	debugPort := flag.Int("debug-port", 0, "if nonzero, serve human-readable node status on this port")
	verbose := flag.Bool("v", false, "debug-level logging")
	flag.Parse()

	log := logrus.StandardLogger()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	met := metrics.New("tcdicn")
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		met.MustRegister(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.WithField("addr", *metricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	var client *tcdicn.ClientConfig
	if *clientName != "" {
		name := *clientName
		if name == "auto" {
			name = uuid.NewString()
		}
		var labelList []string
		if *labels != "" {
			labelList = strings.Split(*labels, ",")
		}
		client = &tcdicn.ClientConfig{Name: name, TTP: *ttp, Labels: labelList}
	}

	node := tcdicn.New(tcdicn.WithLogger(log), tcdicn.WithMetrics(met))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if *debugPort != 0 {
		go func() {
			if err := node.ServeDebug(ctx, *debugPort); err != nil {
				log.WithError(err).Warn("debug server stopped")
			}
		}()
	}

	if *get != "" {
		go func() {
			time.Sleep(time.Second)
			val, err := node.Get(ctx, *get, *ttl, *tpf, *ttp, nil)
			if err != nil {
				log.WithError(err).Warn("get failed")
				return
			}
			fmt.Println(val)
		}()
	}
	if *set != "" {
		go func() {
			time.Sleep(time.Second)
			if err := node.Set(*set, *data, nil); err != nil {
				log.WithError(err).Warn("set failed")
			}
		}()
	}

	if err := node.Start(ctx, *port, *dport, *ttl, *tpf, client); err != nil {
		log.WithError(err).Fatal("node stopped")
	}
}
