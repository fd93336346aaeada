package tcdicn

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/Pragatiaboti/tcdicn/internal/logctx"
)

// ServeDebug runs a minimal plain-HTTP status endpoint on port until ctx
// is cancelled, dumping the node's peer/client/route/interest tables on
// every connection (spec.md §6 "serve_debug(port) (optional, human-
// readable status over a plain-HTTP endpoint)"). It is not part of the
// protocol core; embedders opt in explicitly.
func (n *Node) ServeDebug(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	n.logf("debug").Infof("serving debug information on :%d", port)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go n.onDebugConnection(conn)
	}
}

func (n *Node) onDebugConnection(conn net.Conn) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	defer w.Flush()

	w.WriteString("HTTP/1.1 200 OK\r\n\r\n")
	w.WriteString("Node information\r\n")

	n.mu.Lock()
	defer n.mu.Unlock()

	fmt.Fprintf(w, "Listening port: %d\r\n", n.port)
	fmt.Fprintf(w, "Discovery Port: %d\r\n", n.dport)
	if n.advert != nil {
		fmt.Fprintf(w, "- Client name: %s\r\n", n.advert.Client)
		fmt.Fprintf(w, "- Published labels: %v\r\n", n.advert.Labels)
		names := make([]string, 0, len(n.groups))
		for name := range n.groups {
			names = append(names, name)
		}
		fmt.Fprintf(w, "- Groups: %v\r\n", names)
	}

	w.WriteString("Known peers:\r\n")
	for addr, info := range n.peers.list() {
		fmt.Fprintf(w, "- %s: expires %s\r\n", addr, logctx.Human(info.eol))
	}

	w.WriteString("Known clients:\r\n")
	for client, info := range n.clients.list() {
		fmt.Fprintf(w, "- %s: publishes=%v, my_score=%v, expires %s\r\n",
			client, info.labels, info.score, logctx.Human(info.eol))
	}

	w.WriteString("Known routes:\r\n")
	for client, routes := range n.routes.routes {
		if len(routes) > 0 {
			fmt.Fprintf(w, "- %s: peer=%s score=%v\r\n", client, routes[0].Addr, routes[0].Score)
		}
	}

	w.WriteString("Known interests:\r\n")
	for label, byClient := range n.interests.byLabel {
		clients := make([]string, 0, len(byClient))
		for client := range byClient {
			clients = append(clients, client)
		}
		fmt.Fprintf(w, "- %s: clients=%v\r\n", label, clients)
	}
}
