// Package client is the requester: it reads files from and writes files to a
// responder. Each transfer runs synchronously on the caller's goroutine.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/session"
	"github.com/1ureka/tftp3303/internal/storage"
	"github.com/1ureka/tftp3303/internal/transport"
	"github.com/1ureka/tftp3303/internal/util"
)

var log = util.Component("client")

// Client talks to one responder (or to a relay in front of it).
type Client struct {
	store  storage.Storage
	server *net.UDPAddr
	cfg    session.Config
}

// New creates a Client. Local files are read from and written to store;
// requests are sent to server.
func New(store storage.Storage, server *net.UDPAddr, cfg session.Config) *Client {
	return &Client{store: store, server: server, cfg: cfg}
}

// Read downloads remote into the new local file. The local file must not
// exist yet; on failure it is removed again.
func (c *Client) Read(ctx context.Context, remote, local, mode string) error {
	req, err := c.request(protocol.OpRead, remote, mode)
	if err != nil {
		return err
	}
	if err := c.store.Create(local); err != nil {
		return fmt.Errorf("cannot create local file: %w", err)
	}

	err = c.run(ctx, req, func(s *session.Session) error {
		w := session.DecodeWriter(mode, storage.Appender(c.store, local))
		return errors.Join(s.Receive(ctx, w), w.Close())
	})
	if err != nil {
		if derr := storage.Discard(c.store, local); derr != nil {
			log.Warn("cannot remove partial file %q: %v", local, derr)
		}
		return err
	}
	return nil
}

// Write uploads the local file as remote.
func (c *Client) Write(ctx context.Context, local, remote, mode string) error {
	req, err := c.request(protocol.OpWrite, remote, mode)
	if err != nil {
		return err
	}
	data, err := c.store.ReadAll(local)
	if err != nil {
		return fmt.Errorf("cannot read local file: %w", err)
	}
	wire, err := session.EncodeMode(mode, data)
	if err != nil {
		return err
	}

	return c.run(ctx, req, func(s *session.Session) error {
		return s.Send(ctx, wire)
	})
}

func (c *Client) request(op protocol.Opcode, remote, mode string) (*protocol.Request, error) {
	if !session.SupportedMode(mode) {
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}
	return protocol.NewRequest(op, remote, protocol.NormalizeMode(mode))
}

// run opens a fresh endpoint for one transfer and drives it with fn.
func (c *Client) run(ctx context.Context, req *protocol.Request, fn func(*session.Session) error) error {
	tr, err := transport.Bind(ctx, ":0")
	if err != nil {
		return err
	}
	defer tr.Close()

	s := session.NewRequester(tr, c.server, req, c.cfg)
	util.Stats.AddTransfer()
	log.Info("[%08x] %s to %s", s.ID(), req, c.server)

	if err := fn(s); err != nil {
		util.Stats.AddFailure()
		log.Warn("[%08x] %s %q failed: %v", s.ID(), req.Op, req.Filename, err)
		return err
	}
	util.Stats.AddSuccess()
	util.LogSuccess("[%08x] %s %q complete", s.ID(), req.Op, req.Filename)
	return nil
}
