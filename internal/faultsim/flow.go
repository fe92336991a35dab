package faultsim

import (
	"net"

	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/transport"
)

// flow is the pair of endpoints of the transfer being relayed. It belongs to
// the relay goroutine; the relay handles one transfer at a time.
type flow struct {
	requester *net.UDPAddr
	responder *net.UDPAddr // the responder's transfer endpoint once it replied
}

// route records what pkt from src says about the flow and returns where pkt
// must be forwarded to.
//
// A read or write request starts a new flow and goes to the well-known
// server. The first packet from anyone but the requester pins the responder.
// Packets from the responder go back to the requester; everything else goes
// to the responder, or to the server while the responder is unknown.
func (f *flow) route(pkt protocol.Packet, src, server *net.UDPAddr) *net.UDPAddr {
	if _, ok := pkt.(*protocol.Request); ok {
		f.requester = src
		f.responder = nil
		return server
	}

	if f.responder == nil && f.requester != nil && !transport.SameEndpoint(src, f.requester) {
		f.responder = src
	}
	if f.responder != nil && transport.SameEndpoint(src, f.responder) {
		return f.requester
	}
	if f.responder != nil {
		return f.responder
	}
	return server
}
