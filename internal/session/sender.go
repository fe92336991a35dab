package session

import (
	"context"

	"github.com/1ureka/tftp3303/internal/protocol"
)

// Send runs the sending role: the responder side of a read or the requester
// side of a write. data is split into 512-byte blocks; the last block is
// shorter than 512 bytes, and empty when len(data) is a multiple of 512.
func (s *Session) Send(ctx context.Context, data []byte) error {
	if err := s.begin(protocol.OpWrite); err != nil {
		return err
	}
	if err := s.open(nil); err != nil {
		return s.fail(err)
	}

	if s.req != nil {
		// A write is opened by ACK(0).
		_, err := s.await(ctx, func(p protocol.Packet) verdict {
			if ack, ok := p.(*protocol.Ack); ok && ack.Block == 0 {
				return accept
			}
			return reject
		})
		if err != nil {
			return s.fail(err)
		}
	}

	var blocks blockCounter
	for off := 0; ; off += protocol.MaxPayload {
		end := min(off+protocol.MaxPayload, len(data))
		pkt := &protocol.Data{Block: blocks.Next(), Payload: data[off:end]}

		if err := s.transmit(pkt); err != nil {
			return s.fail(err)
		}
		_, err := s.await(ctx, func(p protocol.Packet) verdict {
			ack, ok := p.(*protocol.Ack)
			if !ok {
				return reject
			}
			return order(ack.Block, pkt.Block)
		})
		if err != nil {
			return s.fail(err)
		}

		if pkt.IsFinal() {
			return s.succeed()
		}
	}
}
