package tcdicn

import (
	"fmt"
	"net"
)

// Addr identifies a peer solely by host and port, as spec.md §3 requires.
type Addr struct {
	Host string
	Port int
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// tcpAddr converts a to the net package's address type for dialing.
func (a Addr) tcpAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.ParseIP(a.Host), Port: a.Port}
}
