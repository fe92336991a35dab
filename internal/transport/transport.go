// Package transport wraps a UDP endpoint for the TFTP roles: bind, send a
// datagram to an endpoint, receive one datagram with a timeout, close.
//
// The Transport never retries; all retry policy belongs to the caller.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/util"
)

// network is fixed to IPv4; IPv6-specific handling is out of scope.
const network = "udp4"

// recvBufferSize is one byte larger than the largest legal datagram so an
// oversized datagram is detected as malformed rather than silently truncated.
const recvBufferSize = protocol.MaxPacketSize + 1

var (
	// ErrTimeout is returned by Receive when no datagram arrived in time.
	ErrTimeout = errors.New("receive timed out")

	// ErrMalformed is wrapped by the error Receive returns for datagrams that
	// do not decode. The accompanying Datagram is still populated.
	ErrMalformed = errors.New("malformed packet")

	// ErrClosed is returned once the Transport has been closed.
	ErrClosed = net.ErrClosed
)

// Datagram is one received packet together with its sender (the remote TID).
type Datagram struct {
	Packet protocol.Packet
	Raw    []byte
	From   *net.UDPAddr
}

// Transport wraps a single UDP socket. Sends may be issued from any
// goroutine; Receive is meant to be called by one goroutine at a time.
//
// Its lifecycle is governed by the context passed to Bind: cancelling it
// closes the socket, which unblocks a pending Receive.
type Transport struct {
	conn *net.UDPConn
	buf  []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Bind opens a UDP socket on addr ("host:port"; port 0 or ":0" picks an
// ephemeral port).
func Bind(ctx context.Context, addr string) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	if err := applySocketOptions(conn); err != nil {
		util.LogDebug("socket options on %s not applied: %v", conn.LocalAddr(), err)
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &Transport{
		conn:   conn,
		buf:    make([]byte, recvBufferSize),
		ctx:    tCtx,
		cancel: tCancel,
	}

	// Parent cancelled → close the socket so blocked readers return.
	go func() {
		<-tCtx.Done()
		t.Close()
	}()

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// LocalAddr returns the bound endpoint (this side's TID).
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Done returns a channel that is closed when the Transport is shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close releases the socket. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// SendTo encodes pkt and writes it to the given endpoint.
func (t *Transport) SendTo(pkt protocol.Packet, to *net.UDPAddr) error {
	return t.SendRaw(protocol.Encode(pkt), to)
}

// SendRaw writes already-encoded bytes to the given endpoint. The relay uses
// it to forward (possibly corrupted) datagrams untouched.
func (t *Transport) SendRaw(b []byte, to *net.UDPAddr) error {
	n, err := t.conn.WriteToUDP(b, to)
	if err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	util.Stats.AddSent(n)
	return nil
}

// Receive waits for one datagram. A timeout <= 0 waits indefinitely.
//
// If the datagram does not decode, the returned Datagram carries the sender
// and a *protocol.Invalid packet, and the error wraps ErrMalformed so the
// caller can answer with an illegal-operation ERROR.
func (t *Transport) Receive(timeout time.Duration) (Datagram, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return Datagram{}, fmt.Errorf("set read deadline: %w", err)
	}

	n, from, err := t.conn.ReadFromUDP(t.buf)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return Datagram{}, ErrTimeout
		case errors.Is(err, net.ErrClosed):
			return Datagram{}, ErrClosed
		default:
			return Datagram{}, fmt.Errorf("receive: %w", err)
		}
	}
	util.Stats.AddRecv(n)

	raw := make([]byte, n)
	copy(raw, t.buf[:n])

	dg := Datagram{Packet: protocol.Decode(raw), Raw: raw, From: from}
	if inv, ok := dg.Packet.(*protocol.Invalid); ok {
		return dg, fmt.Errorf("%w from %s: %s", ErrMalformed, from, inv.Reason)
	}
	return dg, nil
}

// SameEndpoint reports whether a and b are the same transfer ID.
func SameEndpoint(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// ResolveEndpoint parses "host:port" into an IPv4 UDP endpoint.
func ResolveEndpoint(addr string) (*net.UDPAddr, error) {
	ep, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	return ep, nil
}
