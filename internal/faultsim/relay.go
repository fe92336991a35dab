package faultsim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/transport"
	"github.com/1ureka/tftp3303/internal/util"
)

var log = util.Component("errsim")

// Tuning constants.
const (
	eventBufferSize   = 64              // Events channel capacity
	strayReplyTimeout = 2 * time.Second // how long a wrong-endpoint socket waits for its answer
)

// Event reports a fault that fired.
type Event struct {
	ID     string // returned by Arm
	Fault  Fault
	Packet string // the packet the fault fired on
	// Reply is what the receiver sent back to the stray endpoint of a
	// wrong-endpoint fault, normally an unknown-transfer-ID ERROR.
	Reply string
}

type armedFault struct {
	id    string
	fault Fault
}

// Relay forwards one transfer at a time between a requester and the server
// and injects faults into it.
type Relay struct {
	in     *transport.Transport
	server *net.UDPAddr

	mu    sync.Mutex
	armed *armedFault

	events  chan Event
	pending sync.WaitGroup // delayed sends and wrong-endpoint probes
}

// NewRelay creates a Relay that receives on in and talks to the responder's
// well-known endpoint server.
func NewRelay(in *transport.Transport, server *net.UDPAddr) *Relay {
	return &Relay{
		in:     in,
		server: server,
		events: make(chan Event, eventBufferSize),
	}
}

// Addr is the endpoint requesters should send their requests to.
func (r *Relay) Addr() *net.UDPAddr { return r.in.LocalAddr() }

// Arm sets the fault to inject into the next matching packet, replacing any
// fault still armed. It returns an ID that identifies the fault in Events.
func (r *Relay) Arm(f Fault) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	id := uuid.Must(uuid.NewV4()).String()

	r.mu.Lock()
	r.armed = &armedFault{id: id, fault: f}
	r.mu.Unlock()

	log.Info("armed %s [%s]", f, id)
	return id, nil
}

// Disarm clears the armed fault, if any.
func (r *Relay) Disarm() {
	r.mu.Lock()
	r.armed = nil
	r.mu.Unlock()
}

// Armed returns the fault waiting to fire.
func (r *Relay) Armed() (Fault, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed == nil {
		return Fault{}, false
	}
	return r.armed.fault, true
}

// Events delivers one Event per fired fault. Events are dropped when
// nobody keeps up with the channel.
func (r *Relay) Events() <-chan Event { return r.events }

// take disarms and returns the armed fault if it matches pkt. A fault fires
// at most once.
func (r *Relay) take(pkt protocol.Packet) (armedFault, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed == nil || !r.armed.fault.Matches(pkt) {
		return armedFault{}, false
	}
	a := *r.armed
	r.armed = nil
	return a, true
}

// ---------------------------------------------------------------------------
// Relay loop
// ---------------------------------------------------------------------------

// Run relays datagrams until ctx is cancelled. It returns after every delayed
// send it scheduled has finished or been abandoned.
func (r *Relay) Run(ctx context.Context) error {
	defer r.pending.Wait()

	go func() {
		select {
		case <-ctx.Done():
			r.in.Close()
		case <-r.in.Done():
		}
	}()

	log.Info("relaying %s -> %s", r.in.LocalAddr(), r.server)

	var fl flow
	for {
		dg, err := r.in.Receive(0)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrMalformed):
			// Not ours to judge; the receiver answers it.
			log.Debug("%v", err)
		case errors.Is(err, transport.ErrClosed) && ctx.Err() != nil:
			return nil
		default:
			return err
		}

		dst := fl.route(dg.Packet, dg.From, r.server)
		if dst == nil {
			log.Warn("no destination for %s from %s", dg.Packet, dg.From)
			continue
		}
		r.forward(ctx, dg, dst)
	}
}

// forward sends dg on to dst, applying the armed fault if dg matches it.
func (r *Relay) forward(ctx context.Context, dg transport.Datagram, dst *net.UDPAddr) {
	a, ok := r.take(dg.Packet)
	if !ok {
		r.send(dg.Raw, dst)
		return
	}

	log.Warn("injecting %s into %s from %s", a.fault.Mode, dg.Packet, dg.From)
	ev := Event{ID: a.id, Fault: a.fault, Packet: fmt.Sprint(dg.Packet)}

	switch a.fault.Mode {
	case CorruptOpcode:
		r.send(corruptOpcode(dg.Raw), dst)
	case CorruptMode:
		r.send(corruptMode(dg.Packet.(*protocol.Request)), dst)
	case Drop:
	case Delay:
		r.sendLater(ctx, a.fault.Delay, dg.Raw, dst)
	case Duplicate:
		r.send(dg.Raw, dst)
		r.sendLater(ctx, a.fault.Delay, dg.Raw, dst)
	case WrongEndpoint:
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			ev.Reply = r.sendStray(ctx, dg.Raw, dst)
			r.report(ev)
		}()
		return
	}
	r.report(ev)
}

func (r *Relay) send(b []byte, dst *net.UDPAddr) {
	if err := r.in.SendRaw(b, dst); err != nil {
		log.Warn("forward to %s failed: %v", dst, err)
	}
}

// sendLater forwards b after d without holding up the relay loop.
func (r *Relay) sendLater(ctx context.Context, d time.Duration, b []byte, dst *net.UDPAddr) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			r.send(b, dst)
		case <-ctx.Done():
		}
	}()
}

// sendStray sends b to dst from a fresh endpoint the receiver has never
// seen, instead of from the relay socket, and returns a description of the
// answer. The original sender recovers by retransmitting.
func (r *Relay) sendStray(ctx context.Context, b []byte, dst *net.UDPAddr) string {
	stray, err := transport.Bind(ctx, net.JoinHostPort(r.in.LocalAddr().IP.String(), "0"))
	if err != nil {
		log.Warn("cannot open stray endpoint: %v", err)
		return "no stray endpoint"
	}
	defer stray.Close()

	if err := stray.SendRaw(b, dst); err != nil {
		log.Warn("stray send failed: %v", err)
		return "send failed"
	}

	dg, err := stray.Receive(strayReplyTimeout)
	if err != nil && !errors.Is(err, transport.ErrMalformed) {
		log.Info("no reply to stray endpoint %s: %v", stray.LocalAddr(), err)
		return "no reply"
	}
	log.Info("stray endpoint %s got %s from %s", stray.LocalAddr(), dg.Packet, dg.From)
	return fmt.Sprint(dg.Packet)
}

func (r *Relay) report(ev Event) {
	select {
	case r.events <- ev:
	default:
		log.Debug("event channel full, dropping report of %s", ev.ID)
	}
}
