package protocol

import (
	"bytes"
	"encoding/binary"
)

// Encode serializes a Packet into its wire form.
func Encode(pkt Packet) []byte {
	switch p := pkt.(type) {
	case *Request:
		size := OpcodeSize + len(p.Filename) + len(p.Mode) + 2
		for _, o := range p.Options {
			size += len(o.Name) + len(o.Value) + 2
		}
		buf := make([]byte, OpcodeSize, size)
		binary.BigEndian.PutUint16(buf, uint16(p.Op))
		buf = appendString(buf, p.Filename)
		buf = appendString(buf, p.Mode)
		for _, o := range p.Options {
			buf = appendString(buf, o.Name)
			buf = appendString(buf, o.Value)
		}
		return buf

	case *Data:
		buf := make([]byte, HeaderSize+len(p.Payload))
		binary.BigEndian.PutUint16(buf[0:2], uint16(OpData))
		binary.BigEndian.PutUint16(buf[2:4], p.Block)
		copy(buf[HeaderSize:], p.Payload)
		return buf

	case *Ack:
		buf := make([]byte, HeaderSize)
		binary.BigEndian.PutUint16(buf[0:2], uint16(OpAck))
		binary.BigEndian.PutUint16(buf[2:4], p.Block)
		return buf

	case *Error:
		buf := make([]byte, HeaderSize, HeaderSize+len(p.Message)+1)
		binary.BigEndian.PutUint16(buf[0:2], uint16(OpError))
		binary.BigEndian.PutUint16(buf[2:4], uint16(p.Code))
		return appendString(buf, p.Message)

	case *Invalid:
		return append([]byte(nil), p.Raw...)
	}
	return nil
}

// Decode parses a datagram. It never returns nil and never panics: any buffer
// that is not a well-formed packet comes back as *Invalid with a reason.
// The returned packet does not alias data.
func Decode(data []byte) Packet {
	if len(data) < OpcodeSize {
		return invalid(data, 0, "packet too short for an opcode")
	}
	op := binary.BigEndian.Uint16(data[0:2])

	switch Opcode(op) {
	case OpRead, OpWrite:
		return decodeRequest(data, Opcode(op))

	case OpData:
		if len(data) < HeaderSize {
			return invalid(data, op, "DATA shorter than 4 bytes")
		}
		if len(data)-HeaderSize > MaxPayload {
			return invalid(data, op, "DATA payload exceeds 512 bytes")
		}
		payload := make([]byte, len(data)-HeaderSize)
		copy(payload, data[HeaderSize:])
		return &Data{Block: binary.BigEndian.Uint16(data[2:4]), Payload: payload}

	case OpAck:
		if len(data) != HeaderSize {
			return invalid(data, op, "ACK must be exactly 4 bytes")
		}
		return &Ack{Block: binary.BigEndian.Uint16(data[2:4])}

	case OpError:
		if len(data) < HeaderSize+1 {
			return invalid(data, op, "ERROR shorter than 5 bytes")
		}
		msg, rest, ok := cutString(data[HeaderSize:])
		if !ok {
			return invalid(data, op, "ERROR message not NUL-terminated")
		}
		if len(rest) != 0 {
			return invalid(data, op, "trailing bytes after ERROR message")
		}
		return &Error{Code: ErrorCode(binary.BigEndian.Uint16(data[2:4])), Message: msg}
	}

	return invalid(data, op, "unknown opcode")
}

func decodeRequest(data []byte, op Opcode) Packet {
	filename, rest, ok := cutString(data[OpcodeSize:])
	if !ok {
		return invalid(data, uint16(op), "file name not NUL-terminated")
	}
	if filename == "" {
		return invalid(data, uint16(op), "empty file name")
	}

	mode, rest, ok := cutString(rest)
	if !ok {
		return invalid(data, uint16(op), "mode not NUL-terminated")
	}
	if mode == "" {
		return invalid(data, uint16(op), "empty mode")
	}

	req := &Request{Op: op, Filename: filename, Mode: mode}
	for len(rest) > 0 {
		name, tail, ok := cutString(rest)
		if !ok || name == "" {
			return invalid(data, uint16(op), "malformed option name")
		}
		value, tail, ok := cutString(tail)
		if !ok {
			return invalid(data, uint16(op), "option value not NUL-terminated")
		}
		req.Options = append(req.Options, Option{Name: name, Value: value})
		rest = tail
	}
	return req
}

// cutString splits b at the first NUL. ok is false when there is none.
func cutString(b []byte) (s string, rest []byte, ok bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(b[:i]), b[i+1:], true
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

func invalid(data []byte, op uint16, reason string) *Invalid {
	return &Invalid{Op: op, Reason: reason, Raw: append([]byte(nil), data...)}
}
