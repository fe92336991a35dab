package transport

import (
	"net"

	"golang.org/x/net/ipv4"
)

// tosLowDelay is IPTOS_LOWDELAY. Lock-step transfers are latency bound, so
// transfer sockets ask for it; the kernel may ignore or refuse it.
const tosLowDelay = 0x10

// applySocketOptions tunes a freshly bound UDP socket. Failures are not fatal.
func applySocketOptions(conn *net.UDPConn) error {
	return ipv4.NewConn(conn).SetTOS(tosLowDelay)
}
