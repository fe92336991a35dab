// Package faultsim is the error simulator: a relay that sits between a
// requester and the responder's well-known port, forwards every datagram of
// one transfer in both directions, and injects one armed fault into the next
// packet matching its filter.
package faultsim

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/1ureka/tftp3303/internal/protocol"
)

// Mode is the kind of fault to inject.
type Mode int

const (
	CorruptOpcode Mode = iota + 1
	CorruptMode
	Drop
	Delay
	Duplicate
	WrongEndpoint
)

var modeNames = map[Mode]string{
	CorruptOpcode: "corrupt-opcode",
	CorruptMode:   "corrupt-mode",
	Drop:          "drop",
	Delay:         "delay",
	Duplicate:     "duplicate",
	WrongEndpoint: "wrong-endpoint",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts the names printed by Mode.String and a few aliases.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "lose", "loss":
		return Drop, nil
	case "wrong-tid", "tid":
		return WrongEndpoint, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown fault mode %q", s)
}

// AnyBlock matches every block number.
const AnyBlock = -1

// Fault is one fault and the filter that selects the packet it fires on.
type Fault struct {
	Mode Mode
	// Op is the packet kind to match; 0 matches any kind except ERROR.
	Op protocol.Opcode
	// Block restricts DATA and ACK matches to one block number, or AnyBlock.
	Block int
	// Delay is how long a delayed packet is held, or how long after the
	// original a duplicate follows.
	Delay time.Duration
}

// Validate reports a fault that could never fire or is missing a parameter.
func (f Fault) Validate() error {
	if _, ok := modeNames[f.Mode]; !ok {
		return fmt.Errorf("unknown fault mode %d", int(f.Mode))
	}
	switch f.Op {
	case 0, protocol.OpRead, protocol.OpWrite, protocol.OpData, protocol.OpAck:
	default:
		return fmt.Errorf("cannot inject into %s packets", f.Op)
	}
	if f.Mode == CorruptMode && f.Op != 0 && f.Op != protocol.OpRead && f.Op != protocol.OpWrite {
		return errors.New("corrupt-mode applies to read and write requests only")
	}
	if f.Block != AnyBlock {
		if f.Block < 0 || f.Block > 0xFFFF {
			return fmt.Errorf("block %d out of range", f.Block)
		}
		if f.Op != protocol.OpData && f.Op != protocol.OpAck {
			return errors.New("a block number applies to DATA and ACK only")
		}
	}
	if f.Mode == Delay && f.Delay <= 0 {
		return errors.New("delay needs a positive duration")
	}
	if f.Delay < 0 {
		return errors.New("negative delay")
	}
	return nil
}

// Matches reports whether the fault fires on pkt.
func (f Fault) Matches(pkt protocol.Packet) bool {
	op := pkt.Opcode()
	switch pkt.(type) {
	case *protocol.Invalid, *protocol.Error:
		return false
	}
	if f.Op != 0 && op != f.Op {
		return false
	}
	if f.Mode == CorruptMode {
		if _, ok := pkt.(*protocol.Request); !ok {
			return false
		}
	}
	if f.Block == AnyBlock {
		return true
	}
	switch p := pkt.(type) {
	case *protocol.Data:
		return int(p.Block) == f.Block
	case *protocol.Ack:
		return int(p.Block) == f.Block
	}
	return false
}

func (f Fault) String() string {
	var b strings.Builder
	b.WriteString(f.Mode.String())
	b.WriteString(" on ")
	if f.Op == 0 {
		b.WriteString("any packet")
	} else {
		b.WriteString(f.Op.String())
	}
	if f.Block != AnyBlock {
		fmt.Fprintf(&b, " #%d", f.Block)
	}
	if f.Mode == Delay || f.Mode == Duplicate {
		fmt.Fprintf(&b, " (%s)", f.Delay)
	}
	return b.String()
}

// Spec is the JSON form of a Fault used by the control plane and the CLI.
type Spec struct {
	Mode    string `json:"mode"`
	Op      string `json:"op,omitempty"`    // "read", "write", "data", "ack" or "any"
	Block   *int   `json:"block,omitempty"` // omitted: any block
	DelayMS int    `json:"delay_ms,omitempty"`
}

// Fault converts s into a validated Fault.
func (s Spec) Fault() (Fault, error) {
	mode, err := ParseMode(s.Mode)
	if err != nil {
		return Fault{}, err
	}
	f := Fault{Mode: mode, Block: AnyBlock, Delay: time.Duration(s.DelayMS) * time.Millisecond}
	if op := strings.TrimSpace(s.Op); op != "" && !strings.EqualFold(op, "any") {
		if f.Op, err = protocol.ParseOpcode(op); err != nil {
			return Fault{}, err
		}
	}
	if s.Block != nil {
		f.Block = *s.Block
	}
	return f, f.Validate()
}

// SpecOf is the inverse of Spec.Fault.
func SpecOf(f Fault) Spec {
	s := Spec{Mode: f.Mode.String(), Op: "any", DelayMS: int(f.Delay / time.Millisecond)}
	if f.Op != 0 {
		s.Op = strings.ToLower(f.Op.String())
	}
	if f.Block != AnyBlock {
		b := f.Block
		s.Block = &b
	}
	return s
}
