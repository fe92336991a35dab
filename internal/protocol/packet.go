// Package protocol defines the TFTP packet format: the five packet kinds, their
// wire layout and a total decoder that never fails past its own boundary.
package protocol

import (
	"fmt"
	"strings"
)

// Opcode identifies the packet kind on the wire (first two bytes, big-endian).
type Opcode uint16

// Opcode constants.
const (
	OpRead  Opcode = 1 // RRQ
	OpWrite Opcode = 2 // WRQ
	OpData  Opcode = 3 // DATA
	OpAck   Opcode = 4 // ACK
	OpError Opcode = 5 // ERROR
)

// Frame sizes.
const (
	OpcodeSize    = 2
	HeaderSize    = 4                       // opcode(2) + block(2)
	MaxPayload    = 512                     // DATA payload that signals "more may follow"
	MaxPacketSize = HeaderSize + MaxPayload // largest legal datagram
)

// Transfer mode names.
const (
	ModeNetASCII = "netascii"
	ModeOctet    = "octet"
	ModeMail     = "mail"
)

// ErrorCode is the 16-bit code carried by an ERROR packet.
type ErrorCode uint16

const (
	ErrNotDefined        ErrorCode = 0
	ErrFileNotFound      ErrorCode = 1
	ErrAccessViolation   ErrorCode = 2
	ErrDiskFull          ErrorCode = 3
	ErrIllegalOperation  ErrorCode = 4
	ErrUnknownTransferID ErrorCode = 5
	ErrFileAlreadyExists ErrorCode = 6
	ErrNoSuchUser        ErrorCode = 7
)

var errorCodeNames = map[ErrorCode]string{
	ErrNotDefined:        "not defined",
	ErrFileNotFound:      "file not found",
	ErrAccessViolation:   "access violation",
	ErrDiskFull:          "disk full or allocation exceeded",
	ErrIllegalOperation:  "illegal TFTP operation",
	ErrUnknownTransferID: "unknown transfer ID",
	ErrFileAlreadyExists: "file already exists",
	ErrNoSuchUser:        "no such user",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error code %d", uint16(c))
}

func (op Opcode) String() string {
	switch op {
	case OpRead:
		return "RRQ"
	case OpWrite:
		return "WRQ"
	case OpData:
		return "DATA"
	case OpAck:
		return "ACK"
	case OpError:
		return "ERROR"
	default:
		return fmt.Sprintf("OP(%d)", uint16(op))
	}
}

// ParseOpcode accepts the names used on the command line and in control
// messages ("read", "rrq", "data", ...).
func ParseOpcode(s string) (Opcode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "rrq":
		return OpRead, nil
	case "write", "wrq":
		return OpWrite, nil
	case "data":
		return OpData, nil
	case "ack":
		return OpAck, nil
	case "error":
		return OpError, nil
	}
	return 0, fmt.Errorf("unknown packet kind %q", s)
}

// NormalizeMode lowercases a mode name. Unknown modes are returned as-is
// (lowercased); interpreting them is up to the caller.
func NormalizeMode(mode string) string {
	return strings.ToLower(mode)
}

// ---------------------------------------------------------------------------
// Packet variants
// ---------------------------------------------------------------------------

// Packet is one of *Request, *Data, *Ack, *Error or *Invalid.
type Packet interface {
	Opcode() Opcode
	packet()
}

// Option is a request option name/value pair (RFC 2347). Options are kept in
// wire order so re-encoding a decoded request is byte-identical.
type Option struct {
	Name  string
	Value string
}

// Request is a read (RRQ) or write (WRQ) request.
type Request struct {
	Op       Opcode // OpRead or OpWrite
	Filename string
	Mode     string
	Options  []Option
}

// Data carries one block of file content.
type Data struct {
	Block   uint16
	Payload []byte
}

// Ack acknowledges one DATA block (or block 0 for a WRQ).
type Ack struct {
	Block uint16
}

// Error is a best-effort failure notification. It is never acknowledged.
type Error struct {
	Code    ErrorCode
	Message string
}

// Invalid is what Decode returns for bytes that are not a well-formed packet.
type Invalid struct {
	Op     uint16 // raw opcode, 0 if the buffer was too short to hold one
	Reason string
	Raw    []byte
}

func (r *Request) Opcode() Opcode { return r.Op }
func (*Data) Opcode() Opcode      { return OpData }
func (*Ack) Opcode() Opcode       { return OpAck }
func (*Error) Opcode() Opcode     { return OpError }
func (i *Invalid) Opcode() Opcode { return Opcode(i.Op) }

func (*Request) packet() {}
func (*Data) packet()    {}
func (*Ack) packet()     {}
func (*Error) packet()   {}
func (*Invalid) packet() {}

// IsFinal reports whether this is the last block of a transfer.
func (d *Data) IsFinal() bool { return len(d.Payload) < MaxPayload }

func (r *Request) String() string {
	return fmt.Sprintf("%s %q mode=%s", r.Op, r.Filename, r.Mode)
}

func (d *Data) String() string { return fmt.Sprintf("DATA #%d (%d bytes)", d.Block, len(d.Payload)) }
func (a *Ack) String() string  { return fmt.Sprintf("ACK #%d", a.Block) }

func (e *Error) String() string {
	return fmt.Sprintf("ERROR %d (%s): %s", uint16(e.Code), e.Code, e.Message)
}

func (i *Invalid) String() string { return fmt.Sprintf("INVALID op=%d: %s", i.Op, i.Reason) }

// ---------------------------------------------------------------------------
// Builders
// ---------------------------------------------------------------------------

// NewRequest builds a RRQ/WRQ. It rejects the values Decode would reject.
func NewRequest(op Opcode, filename, mode string, opts ...Option) (*Request, error) {
	if op != OpRead && op != OpWrite {
		return nil, fmt.Errorf("request opcode must be RRQ or WRQ, got %s", op)
	}
	if filename == "" || strings.IndexByte(filename, 0) >= 0 {
		return nil, fmt.Errorf("invalid file name %q", filename)
	}
	if mode == "" || strings.IndexByte(mode, 0) >= 0 {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	return &Request{Op: op, Filename: filename, Mode: mode, Options: opts}, nil
}

// NewData builds a DATA packet. Payloads longer than MaxPayload are rejected.
func NewData(block uint16, payload []byte) (*Data, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	return &Data{Block: block, Payload: payload}, nil
}

// NewAck builds an ACK packet.
func NewAck(block uint16) *Ack { return &Ack{Block: block} }

// NewError builds an ERROR packet. NUL bytes in msg are dropped since the
// message is NUL-terminated on the wire.
func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: strings.ReplaceAll(msg, "\x00", "")}
}
