// Package transport implements the node's network I/O: one-shot TCP
// unicast with connect/drain timeouts, a TCP listener, UDP broadcast to
// every local IPv4 interface's broadcast address, and UDP receive with
// self-broadcast filtering.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// TCPTimeout is the time allowed to establish a unicast TCP connection.
const TCPTimeout = 2 * time.Second

// DataTimeout is the total time allowed to read an inbound TCP stream.
const DataTimeout = 2 * time.Second

// Transport owns the node's sockets: one UDP endpoint used for both
// broadcast send and receive, and one TCP listener for unicast receive.
// Short-lived TCP client sockets are opened and closed per unicast send.
type Transport struct {
	udpConn  *net.UDPConn
	listener net.Listener
	port     int
	dport    int
}

// Open binds the UDP broadcast/receive socket and the TCP unicast
// listener on port, and records dport as the UDP broadcast destination.
func Open(port, dport int) (*Transport, error) {
	udpAddr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	udpConn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: listen udp")
	}
	if err := setBroadcast(udpConn); err != nil {
		udpConn.Close()
		return nil, errors.Wrap(err, "transport: set broadcast")
	}
	// Discovery is defined to be single-hop: cap the outgoing IP TTL so
	// a broadcast never crosses a router onto another subnet.
	if err := ipv4.NewPacketConn(udpConn).SetTTL(1); err != nil {
		udpConn.Close()
		return nil, errors.Wrap(err, "transport: set ttl")
	}

	ln, err := net.Listen("tcp4", (&net.TCPAddr{IP: net.IPv4zero, Port: port}).String())
	if err != nil {
		udpConn.Close()
		return nil, errors.Wrap(err, "transport: listen tcp")
	}

	return &Transport{udpConn: udpConn, listener: ln, port: port, dport: dport}, nil
}

// Close releases both sockets. In-flight operations are best-effort;
// they are not forcibly cancelled.
func (t *Transport) Close() error {
	var err error
	if e := t.udpConn.Close(); e != nil {
		err = e
	}
	if e := t.listener.Close(); e != nil {
		err = e
	}
	return err
}

// Loopback returns the address a non-main node forwards unicast traffic
// to: its host's main node, listening on the discovery port.
func Loopback(dport int) *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: dport}
}

// setBroadcast enables SO_BROADCAST on the socket backing conn, which
// the standard library does not expose directly for *net.UDPConn.
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// SendUnicast opens a TCP connection to addr with a connect timeout,
// writes data, waits for it to drain, then closes the connection. Any
// failure is a transport-transient error the caller should reroute on.
func SendUnicast(ctx context.Context, addr *net.TCPAddr, data []byte) error {
	dialer := net.Dialer{Timeout: TCPTimeout}
	conn, err := dialer.DialContext(ctx, "tcp4", addr.String())
	if err != nil {
		return errors.Wrap(err, "transport: dial")
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(TCPTimeout))
	}
	if _, err := conn.Write(data); err != nil {
		return errors.Wrap(err, "transport: write")
	}
	return nil
}

// AcceptLoop runs until the listener is closed, handing each accepted
// connection's fully-read payload to handle. One message per connection,
// terminated by the peer closing its side (or DataTimeout elapsing).
func (t *Transport) AcceptLoop(handle func(addr *net.TCPAddr, data []byte)) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			conn.SetReadDeadline(time.Now().Add(DataTimeout))
			data, err := readAll(conn)
			if err != nil {
				return
			}
			remote, ok := conn.RemoteAddr().(*net.TCPAddr)
			if !ok {
				return
			}
			handle(remote, data)
		}()
	}
}

func readAll(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return buf, nil
		}
	}
}

// ReceiveLoop runs until the UDP socket is closed, handing each
// datagram not originating from a local interface or loopback to
// handle.
func (t *Transport) ReceiveLoop(handle func(addr *net.UDPAddr, data []byte)) {
	buf := make([]byte, 65535)
	for {
		n, addr, err := t.udpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if isLocal(addr.IP) {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		handle(addr, data)
	}
}

// isLocal reports whether ip belongs to a local interface, or is
// loopback/unspecified — used to drop a node's own broadcasts.
func isLocal(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return true
			}
		}
	}
	return false
}

// Broadcast sends data to the broadcast address of every local IPv4
// interface, targeting port dport on each.
func (t *Transport) Broadcast(data []byte) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return errors.Wrap(err, "transport: list interfaces")
	}
	var lastErr error
	sent := false
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			bcast := broadcastAddr(ipNet)
			dst := &net.UDPAddr{IP: bcast, Port: t.dport}
			if _, err := t.udpConn.WriteToUDP(data, dst); err != nil {
				lastErr = err
				continue
			}
			sent = true
		}
	}
	if !sent && lastErr != nil {
		return errors.Wrap(lastErr, "transport: broadcast")
	}
	return nil
}

// broadcastAddr computes address | ^mask — the interface's broadcast
// address — from its CIDR network.
func broadcastAddr(ipNet *net.IPNet) net.IP {
	ip4 := ipNet.IP.To4()
	mask := ipNet.Mask
	out := make(net.IP, len(ip4))
	for i := range ip4 {
		out[i] = ip4[i] | ^mask[i]
	}
	return out
}
