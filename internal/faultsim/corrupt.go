package faultsim

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/1ureka/tftp3303/internal/protocol"
)

// Modes a corrupted request may be rewritten to. All are well-formed.
var corruptModes = []string{protocol.ModeNetASCII, protocol.ModeOctet, protocol.ModeMail}

// corruptOpcode returns a copy of raw whose opcode is not a TFTP opcode.
func corruptOpcode(raw []byte) []byte {
	out := make([]byte, max(len(raw), protocol.OpcodeSize))
	copy(out, raw)
	// Opcodes 1..5 are defined; anything from 6 up is not.
	op := uint16(protocol.OpError) + 1 + rand.N(uint16(0xFFFF-protocol.OpError))
	binary.BigEndian.PutUint16(out, op)
	return out
}

// corruptMode rebuilds req with a different, still well-formed mode.
func corruptMode(req *protocol.Request) []byte {
	current := protocol.NormalizeMode(req.Mode)
	candidates := make([]string, 0, len(corruptModes))
	for _, m := range corruptModes {
		if m != current {
			candidates = append(candidates, m)
		}
	}
	mode := candidates[rand.IntN(len(candidates))]

	return protocol.Encode(&protocol.Request{
		Op:       req.Op,
		Filename: req.Filename,
		Mode:     mode,
		Options:  req.Options,
	})
}
