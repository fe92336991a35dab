// Package session implements the per-transfer stop-and-wait engine shared by
// the requester and the responder.
//
// A Session owns exactly one Conn and talks to exactly one peer. It sends one
// packet, waits for the matching reply and retransmits on timeout, up to a
// fixed number of consecutive timeouts. Packets from any other endpoint are
// answered with an unknown-transfer-ID ERROR and otherwise ignored.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/tftp3303/internal/errsig"
	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/transport"
	"github.com/1ureka/tftp3303/internal/util"
)

// Defaults used when a Config field is left zero.
const (
	DefaultTimeout    = 2 * time.Second
	DefaultMaxRetries = 5
)

var (
	// ErrRetriesExhausted is returned once MaxRetries consecutive waits timed out.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrFinished is returned when Send or Receive is called on a session that
	// already ran.
	ErrFinished = errors.New("session already finished")
)

// RemoteError is an ERROR packet received from the peer that ended the transfer.
type RemoteError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("peer reported %s", e.Code)
	}
	return fmt.Sprintf("peer reported %s: %s", e.Code, e.Message)
}

// Config carries the timing policy of a session.
type Config struct {
	// Timeout is how long one wait for a reply lasts.
	Timeout time.Duration
	// MaxRetries is the number of consecutive timeouts after which the
	// session gives up.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Conn is the datagram endpoint a session runs on. *transport.Transport
// satisfies it.
type Conn interface {
	SendTo(pkt protocol.Packet, to *net.UDPAddr) error
	Receive(timeout time.Duration) (transport.Datagram, error)
	LocalAddr() *net.UDPAddr
}

// State is the lifecycle stage of a session.
type State int

const (
	Start State = iota
	AwaitingPeerResponse
	ExchangingBlocks
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case AwaitingPeerResponse:
		return "awaiting-peer-response"
	case ExchangingBlocks:
		return "exchanging-blocks"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is one transfer. It is goroutine-local: only the goroutine that
// calls Send or Receive touches it.
type Session struct {
	id   uint32
	conn Conn
	cfg  Config

	state  State
	peer   *net.UDPAddr // pinned remote TID; nil until the first valid reply
	server *net.UDPAddr // requester only: where the request goes
	req    *protocol.Request

	last     protocol.Packet // last outgoing packet, for retransmission
	timeouts int             // consecutive timeouts of the current wait
}

// NewResponder creates the responder side of a transfer. The peer is the
// requester's endpoint and is pinned from the start.
func NewResponder(conn Conn, peer *net.UDPAddr, cfg Config) *Session {
	return &Session{
		id:   util.TransferID(conn.LocalAddr(), peer),
		conn: conn,
		cfg:  cfg.withDefaults(),
		peer: peer,
	}
}

// NewRequester creates the requester side of a transfer. The request is sent
// to server and the peer is pinned from the first valid reply, which normally
// comes from a different port than the request went to.
func NewRequester(conn Conn, server *net.UDPAddr, req *protocol.Request, cfg Config) *Session {
	return &Session{
		id:     util.TransferID(conn.LocalAddr(), server),
		conn:   conn,
		cfg:    cfg.withDefaults(),
		server: server,
		req:    req,
	}
}

// State returns the current lifecycle stage.
func (s *Session) State() State { return s.state }

// Peer returns the pinned remote endpoint, or nil if none is pinned yet.
func (s *Session) Peer() *net.UDPAddr { return s.peer }

// ID is a short identifier used to prefix log lines.
func (s *Session) ID() uint32 { return s.id }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// begin checks that the session has not run yet and that its request, if
// any, is of kind op.
func (s *Session) begin(op protocol.Opcode) error {
	if s.state != Start {
		return ErrFinished
	}
	if s.req != nil && s.req.Op != op {
		s.state = Failed
		return fmt.Errorf("request %s cannot be served by this operation", s.req.Op)
	}
	return nil
}

func (s *Session) succeed() error {
	s.state = Succeeded
	util.LogDebug("[%08x] transfer complete", s.id)
	return nil
}

func (s *Session) fail(err error) error {
	s.state = Failed
	util.LogDebug("[%08x] transfer failed: %v", s.id, err)
	return err
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

func (s *Session) dest() *net.UDPAddr {
	if s.peer != nil {
		return s.peer
	}
	return s.server
}

// transmit sends pkt to the current destination and remembers it for
// retransmission. It also starts a fresh wait.
func (s *Session) transmit(pkt protocol.Packet) error {
	s.last = pkt
	s.timeouts = 0
	if err := s.conn.SendTo(pkt, s.dest()); err != nil {
		return err
	}
	util.LogDebug("[%08x] sent %s to %s", s.id, pkt, s.dest())
	return nil
}

func (s *Session) retransmit() error {
	util.Stats.AddRetransmit()
	if err := s.conn.SendTo(s.last, s.dest()); err != nil {
		return err
	}
	util.LogDebug("[%08x] resent %s to %s", s.id, s.last, s.dest())
	return nil
}

// ---------------------------------------------------------------------------
// Waiting
// ---------------------------------------------------------------------------

// verdict is how a wait classifies a packet from the peer.
type verdict int

const (
	accept  verdict = iota // the awaited reply
	discard                // stale; keep waiting
	reject                 // out of sequence; signal illegal operation and keep waiting
)

// await blocks until classify accepts a packet from the peer and returns that
// packet. While no peer is pinned, the first packet that classify accepts
// pins its sender; anything else ends the transfer.
//
// The deadline of a wait is fixed when it starts and only a retransmission
// starts a new one, so discarded packets and foreign senders never extend it.
func (s *Session) await(ctx context.Context, classify func(protocol.Packet) verdict) (protocol.Packet, error) {
	deadline := time.Now().Add(s.cfg.Timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			dg  transport.Datagram
			err error
		)
		if wait := time.Until(deadline); wait > 0 {
			dg, err = s.conn.Receive(wait)
		} else {
			err = transport.ErrTimeout
		}

		switch {
		case err == nil:
		case errors.Is(err, transport.ErrTimeout):
			s.timeouts++
			if s.timeouts >= s.cfg.MaxRetries {
				return nil, fmt.Errorf("%w after %d timeouts waiting for reply to %s", ErrRetriesExhausted, s.timeouts, s.last)
			}
			util.LogDebug("[%08x] timeout %d/%d", s.id, s.timeouts, s.cfg.MaxRetries)
			if err := s.retransmit(); err != nil {
				return nil, err
			}
			deadline = time.Now().Add(s.cfg.Timeout)
			continue
		case errors.Is(err, transport.ErrMalformed):
			if s.peer != nil && !transport.SameEndpoint(dg.From, s.peer) {
				s.foreign(dg)
				continue
			}
			errsig.Signal(s.conn, errsig.IllegalOperation, "malformed packet", dg.From)
			return nil, err
		default:
			return nil, err
		}

		if s.peer != nil && !transport.SameEndpoint(dg.From, s.peer) {
			s.foreign(dg)
			continue
		}

		if e, ok := dg.Packet.(*protocol.Error); ok {
			if s.peer == nil || e.Code != protocol.ErrIllegalOperation {
				return nil, &RemoteError{Code: e.Code, Message: e.Message}
			}
			// The peer did not like what we sent; send it again.
			util.LogDebug("[%08x] peer reported %s: %q", s.id, e.Code, e.Message)
			if err := s.retransmit(); err != nil {
				return nil, err
			}
			deadline = time.Now().Add(s.cfg.Timeout)
			continue
		}

		v := classify(dg.Packet)

		if s.peer == nil {
			if v != accept {
				errsig.Signal(s.conn, errsig.IllegalOperation, fmt.Sprintf("unexpected %s", dg.Packet), dg.From)
				return nil, fmt.Errorf("unexpected reply %s from %s", dg.Packet, dg.From)
			}
			s.peer = dg.From
			s.state = ExchangingBlocks
			util.LogDebug("[%08x] peer pinned at %s", s.id, s.peer)
			return dg.Packet, nil
		}

		switch v {
		case accept:
			return dg.Packet, nil
		case discard:
			util.LogDebug("[%08x] discarded stale %s", s.id, dg.Packet)
		case reject:
			errsig.Signal(s.conn, errsig.IllegalOperation, fmt.Sprintf("unexpected %s", dg.Packet), s.peer)
		}
	}
}

// foreign answers a datagram from an endpoint other than the peer. ERROR
// packets are never answered.
func (s *Session) foreign(dg transport.Datagram) {
	if _, ok := dg.Packet.(*protocol.Error); ok {
		util.LogDebug("[%08x] ignored %s from unknown endpoint %s", s.id, dg.Packet, dg.From)
		return
	}
	util.LogDebug("[%08x] packet from unknown endpoint %s", s.id, dg.From)
	errsig.Signal(s.conn, errsig.UnknownTransferID, "unknown transfer ID", dg.From)
}

// open sends the first packet of the transfer. The requester sends its
// request and waits for the peer; the responder starts exchanging blocks
// right away with first.
func (s *Session) open(first protocol.Packet) error {
	if s.req != nil {
		s.state = AwaitingPeerResponse
		return s.transmit(s.req)
	}
	s.state = ExchangingBlocks
	if first == nil {
		return nil
	}
	return s.transmit(first)
}
