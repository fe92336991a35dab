package session

import (
	"context"
	"fmt"
	"io"

	"github.com/1ureka/tftp3303/internal/errsig"
	"github.com/1ureka/tftp3303/internal/protocol"
)

// Receive runs the receiving role: the requester side of a read or the
// responder side of a write. Every new block is written to w exactly once and
// acknowledged. A write failure is reported to the peer as the matching
// ERROR and ends the transfer.
//
// If w is also an io.Closer it is closed after the final block is written
// and before that block is acknowledged, so the ACK confirms the file is
// complete.
func (s *Session) Receive(ctx context.Context, w io.Writer) error {
	if err := s.begin(protocol.OpRead); err != nil {
		return err
	}
	// The responder opens a write with ACK(0).
	var opener protocol.Packet
	if s.req == nil {
		opener = protocol.NewAck(0)
	}
	if err := s.open(opener); err != nil {
		return s.fail(err)
	}

	var blocks blockCounter
	for {
		want := blocks.Next()
		p, err := s.await(ctx, func(p protocol.Packet) verdict {
			d, ok := p.(*protocol.Data)
			if !ok {
				return reject
			}
			return order(d.Block, want)
		})
		if err != nil {
			return s.fail(err)
		}
		data := p.(*protocol.Data)

		if err := store(w, data); err != nil {
			errsig.Signal(s.conn, errsig.FromError(err), err.Error(), s.peer)
			return s.fail(fmt.Errorf("write block %d: %w", data.Block, err))
		}

		if err := s.transmit(protocol.NewAck(data.Block)); err != nil {
			return s.fail(err)
		}
		if data.IsFinal() {
			return s.succeed()
		}
	}
}

func store(w io.Writer, data *protocol.Data) error {
	if _, err := w.Write(data.Payload); err != nil {
		return err
	}
	if c, ok := w.(io.Closer); ok && data.IsFinal() {
		return c.Close()
	}
	return nil
}
