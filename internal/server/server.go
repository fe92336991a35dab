// Package server is the responder: it listens on the well-known port and
// serves every accepted request on its own goroutine and its own ephemeral
// UDP endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/1ureka/tftp3303/internal/errsig"
	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/session"
	"github.com/1ureka/tftp3303/internal/storage"
	"github.com/1ureka/tftp3303/internal/transport"
	"github.com/1ureka/tftp3303/internal/util"
)

var log = util.Component("server")

// Server answers read and write requests from a Storage.
type Server struct {
	store storage.Storage
	cfg   session.Config
	wg    sync.WaitGroup
}

// New creates a Server. cfg is applied to every transfer it serves.
func New(store storage.Storage, cfg session.Config) *Server {
	return &Server{store: store, cfg: cfg}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	tr, err := transport.Bind(ctx, addr)
	if err != nil {
		return err
	}
	defer tr.Close()
	return s.Serve(ctx, tr)
}

// Serve runs the well-known port loop on tr. It returns nil once ctx is
// cancelled, or the receive error that stopped it otherwise. Transfers still
// running are not waited for; see Wait.
func (s *Server) Serve(ctx context.Context, tr *transport.Transport) error {
	// Cancel → close the listener so the blocking Receive returns.
	go func() {
		select {
		case <-ctx.Done():
			tr.Close()
		case <-tr.Done():
		}
	}()

	log.Info("listening on %s", tr.LocalAddr())

	for {
		dg, err := tr.Receive(0)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrMalformed):
			log.Warn("%v", err)
			errsig.Signal(tr, errsig.IllegalOperation, "malformed request", dg.From)
			continue
		case errors.Is(err, transport.ErrClosed) && ctx.Err() != nil:
			log.Info("listener on %s closed", tr.LocalAddr())
			return nil
		default:
			return err
		}

		req, ok := dg.Packet.(*protocol.Request)
		if !ok {
			if _, isErr := dg.Packet.(*protocol.Error); isErr {
				log.Debug("ignored %s from %s", dg.Packet, dg.From)
				continue
			}
			log.Warn("%s from %s is not a request", dg.Packet, dg.From)
			errsig.Signal(tr, errsig.IllegalOperation, fmt.Sprintf("expected RRQ or WRQ, got %s", dg.Packet.Opcode()), dg.From)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, tr.LocalAddr().IP, req, dg.From)
		}()
	}
}

// Wait blocks until every transfer started by Serve has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// handle serves one request on a fresh endpoint bound to the listener's IP.
func (s *Server) handle(ctx context.Context, ip net.IP, req *protocol.Request, from *net.UDPAddr) {
	tr, err := transport.Bind(ctx, net.JoinHostPort(ip.String(), "0"))
	if err != nil {
		log.Error("cannot open transfer endpoint for %s: %v", from, err)
		return
	}
	defer tr.Close()

	id := util.TransferID(tr.LocalAddr(), from)
	util.Stats.AddTransfer()
	log.Info("[%08x] %s from %s", id, req, from)

	err = s.serve(ctx, tr, req, from)
	if err != nil {
		util.Stats.AddFailure()
		log.Warn("[%08x] %s %q failed: %v", id, req.Op, req.Filename, err)
		return
	}
	util.Stats.AddSuccess()
	util.LogSuccess("[%08x] %s %q complete", id, req.Op, req.Filename)
}

func (s *Server) serve(ctx context.Context, tr *transport.Transport, req *protocol.Request, from *net.UDPAddr) error {
	if !session.SupportedMode(req.Mode) {
		errsig.Signal(tr, errsig.IllegalOperation, fmt.Sprintf("unsupported mode %q", req.Mode), from)
		return fmt.Errorf("unsupported mode %q", req.Mode)
	}

	switch req.Op {
	case protocol.OpRead:
		return s.serveRead(ctx, tr, req, from)
	case protocol.OpWrite:
		return s.serveWrite(ctx, tr, req, from)
	}
	return fmt.Errorf("unexpected request %s", req.Op)
}

// serveRead sends the requested file.
func (s *Server) serveRead(ctx context.Context, tr *transport.Transport, req *protocol.Request, from *net.UDPAddr) error {
	data, err := s.store.ReadAll(req.Filename)
	if err != nil {
		errsig.Signal(tr, errsig.FromError(err), err.Error(), from)
		return err
	}
	wire, err := session.EncodeMode(req.Mode, data)
	if err != nil {
		errsig.Signal(tr, errsig.NotDefined, "cannot encode file", from)
		return err
	}
	return session.NewResponder(tr, from, s.cfg).Send(ctx, wire)
}

// serveWrite receives a new file. A failed upload leaves nothing behind.
func (s *Server) serveWrite(ctx context.Context, tr *transport.Transport, req *protocol.Request, from *net.UDPAddr) error {
	if err := s.store.Create(req.Filename); err != nil {
		errsig.Signal(tr, errsig.FromError(err), err.Error(), from)
		return err
	}

	w := session.DecodeWriter(req.Mode, storage.Appender(s.store, req.Filename))
	err := session.NewResponder(tr, from, s.cfg).Receive(ctx, w)
	err = errors.Join(err, w.Close())
	if err != nil {
		if derr := storage.Discard(s.store, req.Filename); derr != nil {
			log.Warn("cannot remove partial file %q: %v", req.Filename, derr)
		}
		return err
	}
	return nil
}
